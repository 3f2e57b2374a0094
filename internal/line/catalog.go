package line

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Orders []Order `yaml:"orders"`
}

// LoadCatalog reads the order list from a YAML file. A missing file falls
// back to the built-in catalog; a present but invalid file is a startup
// error.
func LoadCatalog(path string, logger *zap.Logger) ([]Order, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Info("orders catalog not found, using built-in orders",
			zap.String("path", path))
		return DefaultOrders(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read orders catalog %s: %w", path, err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse orders catalog %s: %w", path, err)
	}
	if len(file.Orders) == 0 {
		return nil, fmt.Errorf("orders catalog %s contains no orders", path)
	}
	if err := validateOrders(file.Orders); err != nil {
		return nil, fmt.Errorf("orders catalog %s: %w", path, err)
	}

	// The catalog only describes orders; progress always starts fresh.
	for i := range file.Orders {
		file.Orders[i].Status = OrderPending
		file.Orders[i].QuantityProduced = 0
	}

	logger.Info("orders catalog loaded",
		zap.String("path", path),
		zap.Int("orders", len(file.Orders)))
	return file.Orders, nil
}

func validateOrders(orders []Order) error {
	seen := make(map[string]bool, len(orders))
	for i, order := range orders {
		if order.ID == "" {
			return fmt.Errorf("order %d has no id", i)
		}
		if seen[order.ID] {
			return fmt.Errorf("duplicate order id %q", order.ID)
		}
		seen[order.ID] = true
		if order.Product == "" {
			return fmt.Errorf("order %q has no product", order.ID)
		}
		if order.QuantityRequired <= 0 {
			return fmt.Errorf("order %q has non-positive quantity_required", order.ID)
		}
	}
	return nil
}

// DefaultOrders is the compiled-in catalog used when no file is configured.
func DefaultOrders() []Order {
	due := time.Now()
	return []Order{
		{
			ID:               "ORD-1001",
			Product:          "Widget A",
			QuantityRequired: 100,
			Status:           OrderPending,
			DueDate:          due.Add(24 * time.Hour),
		},
		{
			ID:               "ORD-1002",
			Product:          "Widget B",
			QuantityRequired: 150,
			Status:           OrderPending,
			DueDate:          due.Add(48 * time.Hour),
		},
		{
			ID:               "ORD-1003",
			Product:          "Gearbox Housing",
			QuantityRequired: 75,
			Status:           OrderPending,
			DueDate:          due.Add(72 * time.Hour),
		},
	}
}
