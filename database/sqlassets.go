package sqlassets

import _ "embed"

//go:embed schema/core/001_users.sql
var UsersSQL string

//go:embed schema/core/002_contacts.sql
var ContactsSQL string

//go:embed schema/core/003_interactions.sql
var InteractionsSQL string

//go:embed schema/core/004_rapport_tactics.sql
var RapportTacticsSQL string

// CoreSchema lists the DDL in apply order.
func CoreSchema() []string {
	return []string{UsersSQL, ContactsSQL, InteractionsSQL, RapportTacticsSQL}
}
