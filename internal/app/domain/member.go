package domain

// Member is a raw roster record as returned by a federation membership
// endpoint, before mapping into the local schema.
type Member struct {
	MemberID         string `json:"memberId"`
	FirstName        string `json:"firstName"`
	LastName         string `json:"lastName"`
	DateOfBirth      string `json:"dateOfBirth"`
	Email            string `json:"email,omitempty"`
	Phone            string `json:"phone,omitempty"`
	Address          string `json:"address,omitempty"`
	MembershipNumber string `json:"membershipNumber,omitempty"`
	MembershipStatus string `json:"membershipStatus"`
	JoinDate         string `json:"joinDate,omitempty"`
}

// TransformedRecord is the mapper's output unit: a normalized record plus
// the validation errors collected for it. A record with a non-empty error
// list is excluded from import but retained for the error report.
type TransformedRecord struct {
	ExternalID       string
	FirstName        string
	LastName         string
	DateOfBirth      string
	Email            string
	Phone            string
	Street           string
	Town             string
	County           string
	Postcode         string
	Country          string
	EnrollmentStatus string
	EnrollmentDate   string
	Errors           []string
	Warnings         []string
}

// Valid reports whether the record passed all validation rules.
func (r TransformedRecord) Valid() bool {
	return len(r.Errors) == 0
}

// ImportResult is what the batch roster importer reports back: created and
// reused counts per entity kind plus per-record import errors.
type ImportResult struct {
	TotalProcessed     int
	PlayersCreated     int
	PlayersReused      int
	GuardiansCreated   int
	GuardiansReused    int
	EnrollmentsCreated int
	EnrollmentsReused  int
	Errors             []string
}

// Succeeded returns the number of records that were created or matched.
func (r ImportResult) Succeeded() int {
	return r.PlayersCreated + r.PlayersReused
}
