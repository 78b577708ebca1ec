package taxonomy

// GICS hierarchy, 2023 revision. Sectors are level 1, industry groups level 2
// (the "industry" classification type), industries level 3.

type gicsEntry struct {
	code, name, parent string
}

var gicsSectors = []gicsEntry{
	{"10", "Energy", ""},
	{"15", "Materials", ""},
	{"20", "Industrials", ""},
	{"25", "Consumer Discretionary", ""},
	{"30", "Consumer Staples", ""},
	{"35", "Health Care", ""},
	{"40", "Financials", ""},
	{"45", "Information Technology", ""},
	{"50", "Communication Services", ""},
	{"55", "Utilities", ""},
	{"60", "Real Estate", ""},
}

var gicsIndustryGroups = []gicsEntry{
	{"1010", "Energy", "10"},
	{"1510", "Materials", "15"},
	{"2010", "Capital Goods", "20"},
	{"2020", "Commercial & Professional Services", "20"},
	{"2030", "Transportation", "20"},
	{"2510", "Automobiles & Components", "25"},
	{"2520", "Consumer Durables & Apparel", "25"},
	{"2530", "Consumer Services", "25"},
	{"2550", "Consumer Discretionary Distribution & Retail", "25"},
	{"3010", "Consumer Staples Distribution & Retail", "30"},
	{"3020", "Food, Beverage & Tobacco", "30"},
	{"3030", "Household & Personal Products", "30"},
	{"3510", "Health Care Equipment & Services", "35"},
	{"3520", "Pharmaceuticals, Biotechnology & Life Sciences", "35"},
	{"4010", "Banks", "40"},
	{"4020", "Financial Services", "40"},
	{"4030", "Insurance", "40"},
	{"4510", "Software & Services", "45"},
	{"4520", "Technology Hardware & Equipment", "45"},
	{"4530", "Semiconductors & Semiconductor Equipment", "45"},
	{"5010", "Telecommunication Services", "50"},
	{"5020", "Media & Entertainment", "50"},
	{"5510", "Utilities", "55"},
	{"6010", "Equity Real Estate Investment Trusts (REITs)", "60"},
	{"6020", "Real Estate Management & Development", "60"},
}

var gicsIndustries = []gicsEntry{
	{"101010", "Energy Equipment & Services", "1010"},
	{"101020", "Oil, Gas & Consumable Fuels", "1010"},
	{"151010", "Chemicals", "1510"},
	{"151020", "Construction Materials", "1510"},
	{"151030", "Containers & Packaging", "1510"},
	{"151040", "Metals & Mining", "1510"},
	{"151050", "Paper & Forest Products", "1510"},
	{"201010", "Aerospace & Defense", "2010"},
	{"201020", "Building Products", "2010"},
	{"201030", "Construction & Engineering", "2010"},
	{"201040", "Electrical Equipment", "2010"},
	{"201050", "Industrial Conglomerates", "2010"},
	{"201060", "Machinery", "2010"},
	{"201070", "Trading Companies & Distributors", "2010"},
	{"202010", "Commercial Services & Supplies", "2020"},
	{"202020", "Professional Services", "2020"},
	{"203010", "Air Freight & Logistics", "2030"},
	{"203020", "Passenger Airlines", "2030"},
	{"203030", "Marine Transportation", "2030"},
	{"203040", "Ground Transportation", "2030"},
	{"203050", "Transportation Infrastructure", "2030"},
	{"251010", "Automobile Components", "2510"},
	{"251020", "Automobiles", "2510"},
	{"252010", "Household Durables", "2520"},
	{"252020", "Leisure Products", "2520"},
	{"252030", "Textiles, Apparel & Luxury Goods", "2520"},
	{"253010", "Hotels, Restaurants & Leisure", "2530"},
	{"253020", "Diversified Consumer Services", "2530"},
	{"255010", "Distributors", "2550"},
	{"255020", "Broadline Retail", "2550"},
	{"255030", "Specialty Retail", "2550"},
	{"301010", "Consumer Staples Distribution & Retail", "3010"},
	{"302010", "Beverages", "3020"},
	{"302020", "Food Products", "3020"},
	{"302030", "Tobacco", "3020"},
	{"303010", "Household Products", "3030"},
	{"303020", "Personal Care Products", "3030"},
	{"351010", "Health Care Equipment & Supplies", "3510"},
	{"351020", "Health Care Providers & Services", "3510"},
	{"351030", "Health Care Technology", "3510"},
	{"352010", "Biotechnology", "3520"},
	{"352020", "Pharmaceuticals", "3520"},
	{"352030", "Life Sciences Tools & Services", "3520"},
	{"401010", "Banks", "4010"},
	{"402010", "Financial Services", "4020"},
	{"402020", "Consumer Finance", "4020"},
	{"402030", "Capital Markets", "4020"},
	{"402040", "Mortgage Real Estate Investment Trusts (REITs)", "4020"},
	{"403010", "Insurance", "4030"},
	{"451010", "IT Services", "4510"},
	{"451020", "Software", "4510"},
	{"452010", "Communications Equipment", "4520"},
	{"452020", "Technology Hardware, Storage & Peripherals", "4520"},
	{"452030", "Electronic Equipment, Instruments & Components", "4520"},
	{"453010", "Semiconductors & Semiconductor Equipment", "4530"},
	{"501010", "Diversified Telecommunication Services", "5010"},
	{"501020", "Wireless Telecommunication Services", "5010"},
	{"502010", "Media", "5020"},
	{"502020", "Entertainment", "5020"},
	{"502030", "Interactive Media & Services", "5020"},
	{"551010", "Electric Utilities", "5510"},
	{"551020", "Gas Utilities", "5510"},
	{"551030", "Multi-Utilities", "5510"},
	{"551040", "Water Utilities", "5510"},
	{"551050", "Independent Power and Renewable Electricity Producers", "5510"},
	{"601010", "Diversified REITs", "6010"},
	{"601020", "Industrial REITs", "6010"},
	{"601025", "Hotel & Resort REITs", "6010"},
	{"601030", "Office REITs", "6010"},
	{"601040", "Health Care REITs", "6010"},
	{"601050", "Residential REITs", "6010"},
	{"601060", "Retail REITs", "6010"},
	{"601070", "Specialized REITs", "6010"},
	{"602010", "Real Estate Management & Development", "6020"},
}

// GICSVersionName is the built-in default taxonomy version.
const GICSVersionName = "gics-2023"

// BuildGICS constructs the built-in GICS sector tree plus the geography
// tree under a single version. Node ids are deterministic functions of the
// source codes, so every load of the same version yields identical ids.
func BuildGICS() *Tree {
	version := Version{
		ID:     DeterministicID("version", GICSVersionName),
		Name:   GICSVersionName,
		Source: "gics",
	}

	var nodes []Node
	idOf := func(code string) string { return DeterministicID("gics", code) }
	nameOf := make(map[string]string)

	add := func(entries []gicsEntry, level int) {
		for _, e := range entries {
			nameOf[e.code] = e.name
			n := Node{
				ID:        idOf(e.code),
				VersionID: version.ID,
				Kind:      TypeSector,
				Code:      e.code,
				Name:      e.name,
				Level:     level,
			}
			if e.parent != "" {
				n.ParentID = idOf(e.parent)
			}
			n.Path = gicsPath(e.code, nameOf)
			nodes = append(nodes, n)
		}
	}
	add(gicsSectors, 1)
	add(gicsIndustryGroups, 2)
	add(gicsIndustries, 3)

	nodes = append(nodes, geographyNodes(version.ID)...)

	return NewTree(version, nodes)
}

// gicsPath reconstructs the ancestry path from the code structure:
// 2-digit sector, 4-digit group, 6-digit industry.
func gicsPath(code string, nameOf map[string]string) string {
	path := ""
	for i := 2; i <= len(code); i += 2 {
		path += "/" + nameOf[code[:i]]
	}
	return path
}
