package models

// Customer 捐赠人信息
type Customer struct {
	Email     string `json:"email" dynamodbav:"email"`
	FirstName string `json:"firstName" dynamodbav:"first_name"`
	LastName  string `json:"lastName" dynamodbav:"last_name"`
}

// BillingAddress 账单地址
type BillingAddress struct {
	StreetAddress   string `json:"streetAddress" dynamodbav:"street_address"`
	ExtendedAddress string `json:"extendedAddress,omitempty" dynamodbav:"extended_address"`
	Locality        string `json:"locality" dynamodbav:"locality"`
	Region          string `json:"region" dynamodbav:"region"`
	PostalCode      string `json:"postalCode" dynamodbav:"postal_code"`
	CountryCode     string `json:"countryCode" dynamodbav:"country_code"`
}

// DonorContactInfo 一次提交时的联系人快照，按值传递
type DonorContactInfo struct {
	Customer Customer       `json:"customer" dynamodbav:"customer"`
	Billing  BillingAddress `json:"billing" dynamodbav:"billing"`
}
