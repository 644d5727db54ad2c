// Package geo maps ISO-3166 alpha-2 country codes to a continent name and a
// short English country name, without reaching out to any external service.
package geo

// americaSouth lists the alpha-2 codes the UN M49 classification places in
// South America; every other American code is treated as North America.
var americaSouth = map[string]bool{
	"AR": true, "BO": true, "BR": true, "CL": true, "CO": true,
	"EC": true, "FK": true, "GF": true, "GY": true, "PE": true,
	"PY": true, "SR": true, "UY": true, "VE": true,
}

// continentOf maps an alpha-2 code to its continent, using "America" as a
// sentinel for codes resolved further via americaSouth.
var continentOf = map[string]string{
	"DZ": "Africa", "AO": "Africa", "BJ": "Africa", "BW": "Africa", "BF": "Africa",
	"BI": "Africa", "CM": "Africa", "CV": "Africa", "CF": "Africa", "TD": "Africa",
	"KM": "Africa", "CG": "Africa", "CD": "Africa", "CI": "Africa", "DJ": "Africa",
	"EG": "Africa", "GQ": "Africa", "ER": "Africa", "SZ": "Africa", "ET": "Africa",
	"GA": "Africa", "GM": "Africa", "GH": "Africa", "GN": "Africa", "GW": "Africa",
	"KE": "Africa", "LS": "Africa", "LR": "Africa", "LY": "Africa", "MG": "Africa",
	"MW": "Africa", "ML": "Africa", "MR": "Africa", "MU": "Africa", "MA": "Africa",
	"MZ": "Africa", "NA": "Africa", "NE": "Africa", "NG": "Africa", "RW": "Africa",
	"ST": "Africa", "SN": "Africa", "SC": "Africa", "SL": "Africa", "SO": "Africa",
	"ZA": "Africa", "SS": "Africa", "SD": "Africa", "TZ": "Africa", "TG": "Africa",
	"TN": "Africa", "UG": "Africa", "ZM": "Africa", "ZW": "Africa", "EH": "Africa",

	"AF": "Asia", "AM": "Asia", "AZ": "Asia", "BH": "Asia", "BD": "Asia",
	"BT": "Asia", "BN": "Asia", "KH": "Asia", "CN": "Asia", "CY": "Asia",
	"GE": "Asia", "HK": "Asia", "IN": "Asia", "ID": "Asia", "IR": "Asia",
	"IQ": "Asia", "IL": "Asia", "JP": "Asia", "JO": "Asia", "KZ": "Asia",
	"KW": "Asia", "KG": "Asia", "LA": "Asia", "LB": "Asia", "MO": "Asia",
	"MY": "Asia", "MV": "Asia", "MN": "Asia", "MM": "Asia", "NP": "Asia",
	"KP": "Asia", "OM": "Asia", "PK": "Asia", "PS": "Asia", "PH": "Asia",
	"QA": "Asia", "SA": "Asia", "SG": "Asia", "KR": "Asia", "LK": "Asia",
	"SY": "Asia", "TW": "Asia", "TJ": "Asia", "TH": "Asia", "TL": "Asia",
	"TR": "Asia", "TM": "Asia", "AE": "Asia", "UZ": "Asia", "VN": "Asia",
	"YE": "Asia",

	"AL": "Europe", "AD": "Europe", "AT": "Europe", "BY": "Europe", "BE": "Europe",
	"BA": "Europe", "BG": "Europe", "HR": "Europe", "CZ": "Europe", "DK": "Europe",
	"EE": "Europe", "FO": "Europe", "FI": "Europe", "FR": "Europe", "DE": "Europe",
	"GI": "Europe", "GR": "Europe", "HU": "Europe", "IS": "Europe", "IE": "Europe",
	"IT": "Europe", "XK": "Europe", "LV": "Europe", "LI": "Europe", "LT": "Europe",
	"LU": "Europe", "MT": "Europe", "MD": "Europe", "MC": "Europe", "ME": "Europe",
	"NL": "Europe", "MK": "Europe", "NO": "Europe", "PL": "Europe", "PT": "Europe",
	"RO": "Europe", "RU": "Europe", "SM": "Europe", "RS": "Europe", "SK": "Europe",
	"SI": "Europe", "ES": "Europe", "SE": "Europe", "CH": "Europe", "UA": "Europe",
	"GB": "Europe", "VA": "Europe",

	"AU": "Oceania", "FJ": "Oceania", "KI": "Oceania", "MH": "Oceania",
	"FM": "Oceania", "NR": "Oceania", "NZ": "Oceania", "PW": "Oceania",
	"PG": "Oceania", "WS": "Oceania", "SB": "Oceania", "TO": "Oceania",
	"TV": "Oceania", "VU": "Oceania", "NC": "Oceania", "PF": "Oceania", "GU": "Oceania",

	"AG": "America", "AR": "America", "BS": "America", "BB": "America", "BZ": "America",
	"BO": "America", "BR": "America", "CA": "America", "CL": "America", "CO": "America",
	"CR": "America", "CU": "America", "DM": "America", "DO": "America", "EC": "America",
	"SV": "America", "FK": "America", "GF": "America", "GD": "America", "GP": "America",
	"GT": "America", "GY": "America", "HT": "America", "HN": "America", "JM": "America",
	"MX": "America", "NI": "America", "PA": "America", "PY": "America", "PE": "America",
	"PR": "America", "SR": "America", "TT": "America", "US": "America", "UY": "America",
	"VE": "America",
}

// shortName maps an alpha-2 code to a short English country name. This is a
// deliberately partial table: the full ISO-3166 list is large and the miss
// path (return the code unchanged) is specified behavior, not an error.
var shortName = map[string]string{
	"US": "United States", "GB": "United Kingdom", "DE": "Germany", "FR": "France",
	"NL": "Netherlands", "BE": "Belgium", "CH": "Switzerland", "AT": "Austria",
	"SE": "Sweden", "NO": "Norway", "DK": "Denmark", "FI": "Finland",
	"PL": "Poland", "CZ": "Czechia", "ES": "Spain", "IT": "Italy",
	"PT": "Portugal", "IE": "Ireland", "RU": "Russia", "UA": "Ukraine",
	"RO": "Romania", "GR": "Greece", "HU": "Hungary", "BG": "Bulgaria",
	"CA": "Canada", "BR": "Brazil", "AR": "Argentina", "CL": "Chile",
	"MX": "Mexico", "CO": "Colombia", "AU": "Australia", "NZ": "New Zealand",
	"JP": "Japan", "KR": "South Korea", "CN": "China", "IN": "India",
	"SG": "Singapore", "HK": "Hong Kong", "TW": "Taiwan", "ID": "Indonesia",
	"ZA": "South Africa", "NG": "Nigeria", "KE": "Kenya", "EG": "Egypt",
	"AE": "United Arab Emirates", "IL": "Israel", "TR": "Turkey",
	"LT": "Lithuania", "LV": "Latvia", "EE": "Estonia", "SK": "Slovakia",
	"SI": "Slovenia", "HR": "Croatia", "RS": "Serbia", "IS": "Iceland",
	"LU": "Luxembourg", "MT": "Malta", "CY": "Cyprus",
}

// Continent returns the continent name for an alpha-2 country code, splitting
// "America" into "North America" / "South America" by UN sub-region, or
// "Unknown" if the code is not recognized.
func Continent(alpha2 string) string {
	continent, ok := continentOf[alpha2]
	if !ok {
		return "Unknown"
	}
	if continent != "America" {
		return continent
	}
	if americaSouth[alpha2] {
		return "South America"
	}
	return "North America"
}

// CountryName returns the short English name for an alpha-2 country code, or
// the code itself unchanged if it is not in the table.
func CountryName(alpha2 string) string {
	if name, ok := shortName[alpha2]; ok {
		return name
	}
	return alpha2
}
