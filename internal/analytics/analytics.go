// Package analytics computes sales aggregates from in-memory snapshots.
// Every function is pure; callers fetch the data and pass it in.
package analytics

import (
	"sort"
	"time"

	"stockdesk/internal/domain"
)

// ProductSales groups transaction line items by SKU, accumulating quantity
// sold and revenue. Result order follows first encounter across the
// transaction slice, so later sorts stay deterministic on ties.
func ProductSales(transactions []domain.Transaction) []domain.ProductSales {
	index := make(map[string]int, 16)
	sales := make([]domain.ProductSales, 0, 16)

	for _, tx := range transactions {
		for _, item := range tx.Items {
			i, seen := index[item.ProductSKU]
			if !seen {
				index[item.ProductSKU] = len(sales)
				sales = append(sales, domain.ProductSales{ProductSKU: item.ProductSKU, Name: item.Name})
				i = len(sales) - 1
			}
			sales[i].Quantity += item.QuantitySold
			sales[i].Revenue += float64(item.QuantitySold) * item.PricePerItem
		}
	}
	return sales
}

// TopByQuantity returns the n best sellers by units sold, descending. The
// sort is stable, so SKUs tied on quantity keep first-encounter order.
func TopByQuantity(sales []domain.ProductSales, n int) []domain.ProductSales {
	ranked := make([]domain.ProductSales, len(sales))
	copy(ranked, sales)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Quantity > ranked[j].Quantity
	})
	return truncate(ranked, n)
}

// TopByRevenue returns the n best sellers by revenue, descending, stable on
// ties.
func TopByRevenue(sales []domain.ProductSales, n int) []domain.ProductSales {
	ranked := make([]domain.ProductSales, len(sales))
	copy(ranked, sales)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Revenue > ranked[j].Revenue
	})
	return truncate(ranked, n)
}

// Totals sums revenue over transaction totals and cost of goods sold over
// line items priced at each product's current cost. Items whose SKU is
// missing from the product snapshot contribute zero cost.
func Totals(transactions []domain.Transaction, products map[string]domain.Product) domain.SalesTotals {
	totals := domain.SalesTotals{TransactionCount: len(transactions)}
	for _, tx := range transactions {
		totals.Revenue += tx.Total
		for _, item := range tx.Items {
			if product, ok := products[item.ProductSKU]; ok {
				totals.COGS += float64(item.QuantitySold) * product.CostPrice
			}
		}
	}
	totals.Profit = totals.Revenue - totals.COGS
	return totals
}

// WeeklySales buckets transaction totals into the trailing seven calendar
// days, oldest first and ending with the day containing now. Buckets are
// labelled with the short weekday name; transactions older than the window
// are dropped.
func WeeklySales(transactions []domain.Transaction, now time.Time) []domain.DailySales {
	days := make([]domain.DailySales, 7)
	dayIndex := make(map[string]int, 7)
	for i := 0; i < 7; i++ {
		day := now.AddDate(0, 0, i-6)
		key := day.Format("2006-01-02")
		days[i] = domain.DailySales{Day: day.Format("Mon")}
		dayIndex[key] = i
	}

	for _, tx := range transactions {
		key := tx.CreatedAt.In(now.Location()).Format("2006-01-02")
		if i, ok := dayIndex[key]; ok {
			days[i].Revenue += tx.Total
		}
	}
	return days
}

func truncate(sales []domain.ProductSales, n int) []domain.ProductSales {
	if n > 0 && len(sales) > n {
		return sales[:n]
	}
	return sales
}
