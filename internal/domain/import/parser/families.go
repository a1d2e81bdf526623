package parser

import "github.com/FACorreiaa/ledger-ingest/internal/domain/import/plugin"

// Families returns the engines that back manifest-declared adapters.
func Families() map[plugin.Family]plugin.FamilyFactory {
	return map[plugin.Family]plugin.FamilyFactory{
		plugin.FamilyPDF:  newPDFAdapter,
		plugin.FamilyCSV:  newCSVAdapter,
		plugin.FamilyXLSX: newXLSXAdapter,
	}
}

// Builtins returns the compiled-in adapters keyed by identifier.
func Builtins() map[string]plugin.Builtin {
	return map[string]plugin.Builtin{
		OrdersIdentifier: {
			Adapter: OrdersAdapter{},
			Info: plugin.Info{
				Identifier:    OrdersIdentifier,
				Family:        plugin.FamilyCSV,
				Company:       "Amazon",
				StatementType: "Order history",
				SearchString:  "order id&&item net total",
				Instructions:  "Export the order history report as CSV.",
				Builtin:       true,
			},
		},
	}
}
