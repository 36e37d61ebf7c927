package db

import (
	"log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/recipeworks/recipeforge/internal/pipeline"
	"github.com/recipeworks/recipeforge/internal/recipe"
)

// Connect opens the MySQL database and runs migrations for all pipeline
// entities.
func Connect(dsn string) *gorm.DB {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("db: open: %v", err)
	}

	if err := Migrate(gdb); err != nil {
		log.Fatalf("db: migrate: %v", err)
	}
	return gdb
}

// Migrate creates or updates the schema.
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&pipeline.WorkItem{},
		&pipeline.Execution{},
		&recipe.Recipe{},
	)
}
