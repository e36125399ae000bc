package reservation

import "time"

// Customer identity sent to matchCustomer, checkMultiple and confirm.
type Customer struct {
	FirstName string `yaml:"first_name"`
	LastName  string `yaml:"last_name"`
	CustRef   string `yaml:"cust_ref"` // passport / DNI / NIE
	Phone     string `yaml:"phone"`
	Email     string `yaml:"email"`
}

// ServiceMeta is the catalog entry of the booked service.
type ServiceMeta struct {
	PublicID string
	Name     string
	QPID     string
}

// Pending is a slot held server-side between reserve and confirm.
// It is consumed by a single confirm call and never reused afterwards.
type Pending struct {
	PublicID   string
	Service    ServiceMeta
	Time       string // HH:MM
	ReservedAt time.Time
}

// Confirmation is the terminal outcome of a successful booking.
type Confirmation struct {
	Reference string
	Status    string
	Time      string
}
