package taxonomy

// Geography tree: regions at level 1, countries at level 2. Country codes are
// ISO 3166-1 alpha-2; region codes are short internal slugs.

type geoEntry struct {
	code, name, parent string
}

var geoRegions = []geoEntry{
	{"NA", "North America", ""},
	{"EU", "Europe", ""},
	{"APAC", "Asia Pacific", ""},
	{"LATAM", "Latin America", ""},
	{"MEA", "Middle East & Africa", ""},
}

var geoCountries = []geoEntry{
	{"US", "United States", "NA"},
	{"CA", "Canada", "NA"},
	{"MX", "Mexico", "LATAM"},
	{"BR", "Brazil", "LATAM"},
	{"AR", "Argentina", "LATAM"},
	{"CL", "Chile", "LATAM"},
	{"CO", "Colombia", "LATAM"},
	{"GB", "United Kingdom", "EU"},
	{"IE", "Ireland", "EU"},
	{"FR", "France", "EU"},
	{"DE", "Germany", "EU"},
	{"NL", "Netherlands", "EU"},
	{"BE", "Belgium", "EU"},
	{"LU", "Luxembourg", "EU"},
	{"CH", "Switzerland", "EU"},
	{"AT", "Austria", "EU"},
	{"IT", "Italy", "EU"},
	{"ES", "Spain", "EU"},
	{"PT", "Portugal", "EU"},
	{"SE", "Sweden", "EU"},
	{"NO", "Norway", "EU"},
	{"DK", "Denmark", "EU"},
	{"FI", "Finland", "EU"},
	{"PL", "Poland", "EU"},
	{"CZ", "Czech Republic", "EU"},
	{"GR", "Greece", "EU"},
	{"JP", "Japan", "APAC"},
	{"CN", "China", "APAC"},
	{"HK", "Hong Kong", "APAC"},
	{"TW", "Taiwan", "APAC"},
	{"KR", "South Korea", "APAC"},
	{"IN", "India", "APAC"},
	{"SG", "Singapore", "APAC"},
	{"AU", "Australia", "APAC"},
	{"NZ", "New Zealand", "APAC"},
	{"ID", "Indonesia", "APAC"},
	{"MY", "Malaysia", "APAC"},
	{"TH", "Thailand", "APAC"},
	{"VN", "Vietnam", "APAC"},
	{"PH", "Philippines", "APAC"},
	{"IL", "Israel", "MEA"},
	{"AE", "United Arab Emirates", "MEA"},
	{"SA", "Saudi Arabia", "MEA"},
	{"QA", "Qatar", "MEA"},
	{"ZA", "South Africa", "MEA"},
	{"EG", "Egypt", "MEA"},
	{"NG", "Nigeria", "MEA"},
	{"TR", "Turkey", "MEA"},
}

func geographyNodes(versionID string) []Node {
	idOf := func(code string) string { return DeterministicID("geo", code) }
	nameOf := make(map[string]string, len(geoRegions))

	var nodes []Node
	for _, r := range geoRegions {
		nameOf[r.code] = r.name
		nodes = append(nodes, Node{
			ID:        idOf(r.code),
			VersionID: versionID,
			Kind:      TypeGeography,
			Code:      r.code,
			Name:      r.name,
			Path:      "/" + r.name,
			Level:     1,
		})
	}
	for _, c := range geoCountries {
		nodes = append(nodes, Node{
			ID:        idOf(c.code),
			VersionID: versionID,
			Kind:      TypeGeography,
			Code:      c.code,
			Name:      c.name,
			ParentID:  idOf(c.parent),
			Path:      "/" + nameOf[c.parent] + "/" + c.name,
			Level:     2,
		})
	}
	return nodes
}
