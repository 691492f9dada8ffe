package medication

// DefaultCatalog is used by tenants that have no active medication_catalog
// rows. The returned slice is a fresh copy.
func DefaultCatalog() []Entry {
	out := make([]Entry, len(defaultCatalog))
	copy(out, defaultCatalog)
	return out
}

var defaultCatalog = []Entry{
	{Key: "tirzepatide-2.5", Name: "Tirzepatide", Strength: "2.5mg", Family: FamilyTirzepatide, NewPatientDefault: true,
		DefaultSig: "Inject 2.5mg subcutaneously once weekly", DefaultQuantity: 1, SortOrder: 10},
	{Key: "tirzepatide-5", Name: "Tirzepatide", Strength: "5mg", Family: FamilyTirzepatide,
		DefaultSig: "Inject 5mg subcutaneously once weekly", DefaultQuantity: 1, SortOrder: 11},
	{Key: "tirzepatide-7.5", Name: "Tirzepatide", Strength: "7.5mg", Family: FamilyTirzepatide,
		DefaultSig: "Inject 7.5mg subcutaneously once weekly", DefaultQuantity: 1, SortOrder: 12},
	{Key: "tirzepatide-10", Name: "Tirzepatide", Strength: "10mg", Family: FamilyTirzepatide,
		DefaultSig: "Inject 10mg subcutaneously once weekly", DefaultQuantity: 1, SortOrder: 13},
	{Key: "tirzepatide-12.5", Name: "Tirzepatide", Strength: "12.5mg", Family: FamilyTirzepatide,
		DefaultSig: "Inject 12.5mg subcutaneously once weekly", DefaultQuantity: 1, SortOrder: 14},
	{Key: "tirzepatide-15", Name: "Tirzepatide", Strength: "15mg", Family: FamilyTirzepatide,
		DefaultSig: "Inject 15mg subcutaneously once weekly", DefaultQuantity: 1, SortOrder: 15},

	{Key: "semaglutide-0.25", Name: "Semaglutide", Strength: "0.25mg", Family: FamilySemaglutide, NewPatientDefault: true,
		DefaultSig: "Inject 0.25mg subcutaneously once weekly", DefaultQuantity: 1, SortOrder: 20},
	{Key: "semaglutide-0.5", Name: "Semaglutide", Strength: "0.5mg", Family: FamilySemaglutide,
		DefaultSig: "Inject 0.5mg subcutaneously once weekly", DefaultQuantity: 1, SortOrder: 21},
	{Key: "semaglutide-1", Name: "Semaglutide", Strength: "1mg", Family: FamilySemaglutide,
		DefaultSig: "Inject 1mg subcutaneously once weekly", DefaultQuantity: 1, SortOrder: 22},
	{Key: "semaglutide-1.7", Name: "Semaglutide", Strength: "1.7mg", Family: FamilySemaglutide,
		DefaultSig: "Inject 1.7mg subcutaneously once weekly", DefaultQuantity: 1, SortOrder: 23},
	{Key: "semaglutide-2.4", Name: "Semaglutide", Strength: "2.4mg", Family: FamilySemaglutide,
		DefaultSig: "Inject 2.4mg subcutaneously once weekly", DefaultQuantity: 1, SortOrder: 24},

	{Key: "ondansetron-4", Name: "Ondansetron", Strength: "4mg ODT",
		DefaultSig: "Dissolve 1 tablet on the tongue every 8 hours as needed for nausea", DefaultQuantity: 20, SortOrder: 40},
	{Key: "metformin-er-500", Name: "Metformin", Strength: "500mg ER",
		DefaultSig: "Take 1 tablet by mouth once daily with evening meal", DefaultQuantity: 30, SortOrder: 41},
	{Key: "naltrexone-bupropion", Name: "Naltrexone/Bupropion", Strength: "8mg/90mg ER",
		DefaultSig: "Take 1 tablet by mouth every morning; titrate per plan", DefaultQuantity: 120, SortOrder: 42},
}
