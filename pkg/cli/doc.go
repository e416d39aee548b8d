// Package cli implements the rolekeeper command-line interface.
//
// Every command reads its backends from ROLEKEEPER_* environment variables
// (see package config) and opens them for the duration of the command.
//
// # Commands
//
//	rolekeeper catalog -format yaml
//	rolekeeper roles -id editor
//	rolekeeper create -name Support -permissions posts.read,users.read
//	rolekeeper edit -role <id> -toggle settings.manage -confirm -commit
//	rolekeeper update -id <id> -name "Support Lead"
//	rolekeeper duplicate -id editor
//	rolekeeper delete -id <id> -replacement viewer
//	rolekeeper assign -role <id> -users u1,u2
//	rolekeeper check -user u1 -permission posts.write
//	rolekeeper logs -role <id> -since 24h -format csv
//	rolekeeper export -out roles.json
//	rolekeeper import -in roles.json
//	rolekeeper snapshot
//	rolekeeper serve
//
// edit applies -toggle and -group flags in the order given. Disabling a
// critical permission fails with a confirmation error unless -confirm is
// passed. Without -commit the draft is only diffed and previewed.
//
// Rejected operations exit with status 2; other failures exit with 1.
package cli
