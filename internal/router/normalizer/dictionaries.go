// internal/router/normalizer/dictionaries.go
package normalizer

// Fixed entity dictionaries for the Philippine FMCG retail domain. Keys are
// the canonical display values; aliases are lowercase surface forms.

var brandDictionary = map[string][]string{
	"Alaska":      {"alaska", "alaska milk"},
	"Oishi":       {"oishi"},
	"Nestle":      {"nestle", "nestlé"},
	"Bear Brand":  {"bear brand", "bearbrand"},
	"Lucky Me":    {"lucky me", "luckyme"},
	"Del Monte":   {"del monte", "delmonte"},
	"Jack n Jill": {"jack n jill", "jack and jill", "jacknjill"},
	"Milo":        {"milo"},
	"Selecta":     {"selecta"},
	"Magnolia":    {"magnolia"},
}

var categoryDictionary = map[string][]string{
	"milk":       {"milk", "dairy", "evaporada", "condensada"},
	"snacks":     {"snacks", "snack", "chips", "crackers"},
	"beverages":  {"beverages", "beverage", "drinks", "juice", "softdrinks"},
	"noodles":    {"noodles", "instant noodles", "pancit canton"},
	"canned":     {"canned", "canned goods", "sardines", "corned beef"},
	"personal care": {"personal care", "shampoo", "soap", "toothpaste"},
	"tobacco":    {"tobacco", "cigarettes"},
	"ice cream":  {"ice cream", "icecream"},
}

var regionDictionary = map[string][]string{
	"NCR":           {"ncr", "metro manila", "manila"},
	"Luzon":         {"luzon", "north luzon", "south luzon"},
	"Visayas":       {"visayas", "cebu", "iloilo"},
	"Mindanao":      {"mindanao", "davao", "cagayan de oro"},
	"CALABARZON":    {"calabarzon", "region 4a"},
	"Central Luzon": {"central luzon", "region 3", "pampanga"},
}

// metricDictionary maps surface metric words to canonical measure names.
var metricDictionary = map[string][]string{
	"sales":        {"sales", "revenue", "gmv", "turnover"},
	"units":        {"units", "volume", "quantity", "qty"},
	"transactions": {"transactions", "transaction", "baskets", "orders"},
	"basket_size":  {"basket size", "basket value", "avg basket"},
	"growth_rate":  {"growth", "growth rate", "increase", "decline"},
	"market_share": {"market share", "share"},
}

// stopWords is the fixed removal list; tokens here never survive cleaning.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "of": {}, "in": {}, "on": {}, "at": {},
	"for": {}, "to": {}, "by": {}, "with": {}, "and": {}, "or": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {},
	"do": {}, "does": {}, "did": {}, "can": {}, "could": {}, "will": {},
	"me": {}, "my": {}, "our": {}, "your": {}, "what": {}, "which": {},
	"how": {}, "show": {}, "give": {}, "tell": {}, "please": {},
	"about": {}, "per": {}, "this": {}, "that": {}, "it": {}, "its": {},
}
