package pharmacy

// Order is the payload forwarded to the pharmacy router.
type Order struct {
	ReferenceID    string  `json:"reference_id"`
	ClinicCode     string  `json:"clinic_code,omitempty"`
	ProviderID     string  `json:"provider_id"`
	Patient        Patient `json:"patient"`
	ShipTo         Address `json:"ship_to"`
	ShippingMethod string  `json:"shipping_method"`
	Lines          []Line  `json:"lines"`
}

type Patient struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
	Gender      string `json:"gender"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Allergies   string `json:"allergies,omitempty"`
}

type Address struct {
	Address1 string `json:"address1"`
	Address2 string `json:"address2,omitempty"`
	City     string `json:"city"`
	State    string `json:"state"`
	Zip      string `json:"zip"`
}

type Line struct {
	ProductKey string `json:"product_key"`
	Name       string `json:"name"`
	Sig        string `json:"sig"`
	Quantity   int    `json:"quantity"`
	Refills    int    `json:"refills"`
}

// Result is the router's acknowledgement of an accepted order.
type Result struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}
