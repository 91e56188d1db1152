package locale

// DefaultDictionary returns the built-in dictionary. Deployments extend it
// with a YAML file of their own people and organizations.
func DefaultDictionary() *Dictionary {
	return NewDictionary(defaultEntries(), defaultMisspellings())
}

func defaultEntries() []Entry {
	return []Entry{
		{Canonical: "Kubernetes", Kind: KindTerm, Aliases: []string{"k8s"}},
		{Canonical: "PostgreSQL", Kind: KindTerm, Aliases: []string{"Postgres"}},
		{Canonical: "GitHub", Kind: KindOrganization},
		{Canonical: "GitLab", Kind: KindOrganization},
		{Canonical: "Salesforce", Kind: KindOrganization},
		{Canonical: "Jira", Kind: KindTerm},
		{Canonical: "Confluence", Kind: KindTerm},
		{Canonical: "Slack", Kind: KindOrganization},
		{Canonical: "OpenAI", Kind: KindOrganization},
		{Canonical: "Microsoft", Kind: KindOrganization},
		{Canonical: "Google", Kind: KindOrganization},
		{Canonical: "Amazon Web Services", Kind: KindOrganization, Aliases: []string{"AWS"}},
		{Canonical: "Zürich", Kind: KindLocation, Aliases: []string{"Zurich"}},
		{Canonical: "São Paulo", Kind: KindLocation},
		{Canonical: "Kraków", Kind: KindLocation, Aliases: []string{"Krakow", "Cracow"}},
		{Canonical: "München", Kind: KindLocation, Aliases: []string{"Munich"}},
		{Canonical: "Montréal", Kind: KindLocation, Aliases: []string{"Montreal"}},
		{Canonical: "Reykjavík", Kind: KindLocation},
		{Canonical: "Düsseldorf", Kind: KindLocation},
		{Canonical: "New York", Kind: KindLocation},
		{Canonical: "San Francisco", Kind: KindLocation},
		{Canonical: "London", Kind: KindLocation},
		{Canonical: "Berlin", Kind: KindLocation},
		{Canonical: "Singapore", Kind: KindLocation},
	}
}

func defaultMisspellings() map[string]string {
	return map[string]string{
		"kubernetis":      "Kubernetes",
		"cooper netties":  "Kubernetes",
		"post gress":      "PostgreSQL",
		"postgres sequel": "PostgreSQL",
		"git hub":         "GitHub",
		"git lab":         "GitLab",
		"sales force":     "Salesforce",
		"jiro":            "Jira",
		"open ai":         "OpenAI",
		"munchen":         "München",
		"sao paulo":       "São Paulo",
		"dusseldorf":      "Düsseldorf",
	}
}
