// status-rebuild recomputes the derived status of every product (or one
// product via -product-id) from current line-item facts. Safe to run anytime;
// it only persists rows whose stored status is stale.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/mmdatafocus/stockbook_backend/config"
	"github.com/mmdatafocus/stockbook_backend/models"
	"github.com/mmdatafocus/stockbook_backend/utils"
	"gorm.io/gorm"
)

func main() {
	productID := flag.Int("product-id", 0, "Optional: rebuild only one product. If 0, rebuilds all products.")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}

	ctx = utils.SetUserIdInContext(ctx, 0)
	ctx = utils.SetUserNameInContext(ctx, "StatusRebuild")

	var ids []int
	query := db.WithContext(ctx).Model(&models.Product{}).Order("id")
	if *productID > 0 {
		query = query.Where("id = ?", *productID)
	}
	if err := query.Pluck("id", &ids).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to list products: %v\n", err)
		os.Exit(1)
	}
	if len(ids) == 0 {
		fmt.Fprintln(os.Stderr, "no products found")
		return
	}

	rebuilt := 0
	for _, id := range ids {
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			_, err := models.RecomputeProductStatus(tx, id)
			return err
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "product %d: %v\n", id, err)
			os.Exit(1)
		}
		rebuilt++
	}
	fmt.Printf("Recomputed status for %d product(s)\n", rebuilt)
}
