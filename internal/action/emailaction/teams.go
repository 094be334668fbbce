package emailaction

import "strings"

// Member is one person on a support team.
type Member struct {
	Name    string
	Email   string
	Role    string
	Manager bool
}

// Team is a routing target for tickets.
type Team struct {
	Key            string
	Name           string
	Address        string
	ManagerAddress string
	Members        []Member
}

// Manager returns the member flagged as manager, falling back to the team's
// manager address.
func (t Team) Manager() (name, email string) {
	for _, m := range t.Members {
		if m.Manager {
			return m.Name, m.Email
		}
	}
	return "Manager", t.ManagerAddress
}

type memberDef struct {
	name, local, role string
	manager           bool
}

type teamDef struct {
	key, name, local, managerLocal string
	members                        []memberDef
}

const (
	teamBilling    = "billing_team"
	teamShipping   = "shipping_team"
	teamTechnical  = "technical_support_team"
	teamAccount    = "account_services_team"
	teamProduct    = "product_quality_team"
	teamGeneral    = "general_support_team"
	teamManagement = "management_team"
)

var teamDefs = []teamDef{
	{teamBilling, "Billing Support Team", "billing", "billing-manager", []memberDef{
		{"Sarah Chen", "sarah.chen", "Senior Billing Specialist", false},
		{"Mike Rodriguez", "mike.rodriguez", "Billing Agent", false},
		{"Lisa Wang", "lisa.wang", "Billing Manager", true},
	}},
	{teamShipping, "Shipping & Logistics Team", "shipping", "shipping-manager", []memberDef{
		{"David Kim", "david.kim", "Logistics Specialist", false},
		{"Emma Thompson", "emma.thompson", "Shipping Agent", false},
		{"Carlos Lopez", "carlos.lopez", "Shipping Manager", true},
	}},
	{teamTechnical, "Technical Support Team", "tech-support", "tech-lead", []memberDef{
		{"Alex Johnson", "alex.johnson", "Senior Developer", false},
		{"Priya Patel", "priya.patel", "Support Engineer", false},
		{"James Wilson", "james.wilson", "Tech Lead", true},
	}},
	{teamAccount, "Account Services Team", "accounts", "accounts-manager", []memberDef{
		{"Rachel Green", "rachel.green", "Account Specialist", false},
		{"Tom Bradley", "tom.bradley", "Account Manager", true},
	}},
	{teamProduct, "Product Quality Team", "quality", "product-manager", []memberDef{
		{"Nina Zhao", "nina.zhao", "Quality Specialist", false},
		{"Ryan Murphy", "ryan.murphy", "Product Manager", true},
	}},
	{teamGeneral, "General Support Team", "support", "support-manager", []memberDef{
		{"Sophie Miller", "sophie.miller", "Support Agent", false},
		{"Kevin Chang", "kevin.chang", "Support Manager", true},
	}},
	{teamManagement, "Management Team", "management", "director", []memberDef{
		{"Jennifer Adams", "jennifer.adams", "Customer Success Manager", false},
		{"Robert Chen", "robert.chen", "Director of Support", true},
	}},
}

// routes maps issue types to team keys. Unknown issue types go to the
// general team.
var routes = map[string]string{
	"billing":           teamBilling,
	"refund":            teamBilling,
	"shipping":          teamShipping,
	"technical_support": teamTechnical,
	"account_access":    teamAccount,
	"product_quality":   teamProduct,
	"compliment":        teamGeneral,
	"general":           teamGeneral,
}

// Directory resolves issue types to teams with concrete addresses.
type Directory struct {
	teams map[string]Team
}

// NewDirectory builds the team directory. Addresses are local@domain unless
// override is set, in which case every address is override. The override
// exists for staging setups where all mail goes to one inbox.
func NewDirectory(domain, override string) *Directory {
	addr := func(local string) string {
		if override != "" {
			return override
		}
		return local + "@" + strings.TrimPrefix(domain, "@")
	}

	d := &Directory{teams: make(map[string]Team, len(teamDefs))}
	for _, ts := range teamDefs {
		t := Team{
			Key:            ts.key,
			Name:           ts.name,
			Address:        addr(ts.local),
			ManagerAddress: addr(ts.managerLocal),
		}
		for _, ms := range ts.members {
			t.Members = append(t.Members, Member{
				Name:    ms.name,
				Email:   addr(ms.local),
				Role:    ms.role,
				Manager: ms.manager,
			})
		}
		d.teams[t.Key] = t
	}
	return d
}

// Route returns the team responsible for issueType.
func (d *Directory) Route(issueType string) Team {
	key, ok := routes[issueType]
	if !ok {
		key = teamGeneral
	}
	return d.teams[key]
}

// Team returns a team by key.
func (d *Directory) Team(key string) (Team, bool) {
	t, ok := d.teams[key]
	return t, ok
}
