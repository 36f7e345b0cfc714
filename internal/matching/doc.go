// Package matching holds the keys used to line up enrollee slots, calendar
// sessions and link rows.
//
// Every comparison of people across the session roster and the link table
// goes through NormalizeName, and every session lookup goes through a Policy,
// so the read and write paths of reconciliation agree on identity.
package matching
