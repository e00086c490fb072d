package match

// labelCatalog is the closed set of functional labels the parser may emit.
// It mirrors the labels table seeded by the catalog import pipeline; the
// extractor discards anything outside this list so free-form model output
// cannot invent categories.
var labelCatalog = []string{
	"Accounting",
	"Analytics",
	"Banking",
	"CRM",
	"Communication",
	"Compliance",
	"Customer Support",
	"Data Management",
	"Debt Collection",
	"Document Management",
	"E-commerce",
	"Email Marketing",
	"Financial Planning",
	"HR & Payroll",
	"Invoicing",
	"Inventory Management",
	"Legal Services",
	"Liquidity Management",
	"Marketing Automation",
	"Multi-Banking",
	"Online Payments",
	"Point of Sale",
	"Project Management",
	"Reporting",
	"Sales",
	"Shipping & Logistics",
	"Tax Management",
	"Time Tracking",
	"Workflow Automation",
}

// LabelCatalog returns a copy of the closed label set.
func LabelCatalog() []string {
	out := make([]string, len(labelCatalog))
	copy(out, labelCatalog)
	return out
}
