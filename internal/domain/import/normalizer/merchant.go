// Package normalizer assigns an initial category to imported transactions.
// Stored category overrides win over the built-in merchant patterns; anything
// neither recognises keeps the ledger's default category.
package normalizer

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MerchantInfo is the result of sanitizing one transaction description.
type MerchantInfo struct {
	OriginalName   string `json:"original_name"`
	NormalizedName string `json:"normalized_name"`
	Category       string `json:"category,omitempty"`
	Subcategory    string `json:"subcategory,omitempty"`
}

// MerchantPattern maps descriptions matching Pattern to a merchant and category.
type MerchantPattern struct {
	Pattern     *regexp.Regexp
	Name        string
	Category    string
	Subcategory string
}

// MerchantSanitizer strips bank noise from descriptions and recognises
// well-known merchants. Patterns are tried in order; the first match wins.
type MerchantSanitizer struct {
	patterns []MerchantPattern
}

// NewMerchantSanitizer creates a sanitizer with the built-in patterns.
func NewMerchantSanitizer() *MerchantSanitizer {
	return &MerchantSanitizer{patterns: defaultMerchantPatterns()}
}

// Sanitize normalizes a description and detects its category.
func (s *MerchantSanitizer) Sanitize(description string) MerchantInfo {
	cleaned := cleanMerchantName(description)
	info := MerchantInfo{OriginalName: description, NormalizedName: cleaned}

	upper := strings.ToUpper(cleaned)
	for _, p := range s.patterns {
		if p.Pattern.MatchString(upper) {
			info.NormalizedName = p.Name
			info.Category = p.Category
			info.Subcategory = p.Subcategory
			return info
		}
	}

	info.NormalizedName = titleCase(stripLocation(cleaned))
	return info
}

// AddPattern appends a custom pattern after the built-in ones.
func (s *MerchantSanitizer) AddPattern(pattern, name, category, subcategory string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	s.patterns = append(s.patterns, MerchantPattern{
		Pattern:     re,
		Name:        name,
		Category:    category,
		Subcategory: subcategory,
	})
	return nil
}

var (
	noisePrefixes = []string{
		"CARD PURCHASE ", "DEBIT CARD ", "CHECKCARD ", "PURCHASE ", "PAYMENT ",
		"POS ", "ACH ", "DEBIT ", "RECURRING ", "ONLINE ",
		"COMPRA ", "COMPRAS ", "PAGAMENTO ", "PAG ", "TRF ", "MB WAY ",
		"VISA ", "MASTERCARD ", "MAESTRO ",
	}
	trailingReference = regexp.MustCompile(`\s+[#*]?\d{4,}$`)
	trailingDate      = regexp.MustCompile(`\s+\d{1,2}/\d{1,2}(/\d{2,4})?$`)
	trailingState     = regexp.MustCompile(`\s+[A-Z][A-Za-z]+\s+[A-Z]{2}$`)
	whitespace        = regexp.MustCompile(`\s+`)
)

// cleanMerchantName removes transaction prefixes, trailing reference numbers
// and dates, and collapses whitespace.
func cleanMerchantName(raw string) string {
	result := whitespace.ReplaceAllString(strings.TrimSpace(raw), " ")

	upper := strings.ToUpper(result)
	for _, prefix := range noisePrefixes {
		if strings.HasPrefix(upper, prefix) {
			result = result[len(prefix):]
			break
		}
	}

	for {
		stripped := trailingDate.ReplaceAllString(result, "")
		stripped = trailingReference.ReplaceAllString(stripped, "")
		if stripped == result {
			break
		}
		result = stripped
	}
	return strings.TrimSpace(result)
}

// stripLocation drops a trailing "CITY ST" suffix card networks append.
func stripLocation(s string) string {
	return strings.TrimSpace(trailingState.ReplaceAllString(s, ""))
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, word := range words {
		_, size := utf8.DecodeRuneInString(word)
		words[i] = strings.ToUpper(word[:size]) + strings.ToLower(word[size:])
	}
	return strings.Join(words, " ")
}

func defaultMerchantPatterns() []MerchantPattern {
	p := func(expr, name, category, subcategory string) MerchantPattern {
		return MerchantPattern{regexp.MustCompile(expr), name, category, subcategory}
	}
	return []MerchantPattern{
		// Groceries
		p(`WHOLE\s*FOODS|WHOLEFDS`, "Whole Foods", "Groceries", "Supermarket"),
		p(`TRADER\s*JOE`, "Trader Joe's", "Groceries", "Supermarket"),
		p(`SAFEWAY`, "Safeway", "Groceries", "Supermarket"),
		p(`KROGER`, "Kroger", "Groceries", "Supermarket"),
		p(`COSTCO\s*WHSE|COSTCO`, "Costco", "Groceries", "Warehouse"),
		p(`PINGO\s*DOCE|PGO\s*DOCE`, "Pingo Doce", "Groceries", "Supermarket"),
		p(`\bLIDL\b`, "Lidl", "Groceries", "Supermarket"),
		p(`\bALDI\b`, "Aldi", "Groceries", "Supermarket"),

		// Food & Drink; delivery before rideshare so UBER EATS wins over UBER
		p(`STARBUCKS`, "Starbucks", "Food & Drink", "Coffee"),
		p(`BAKERY`, "Bakery", "Food & Drink", "Coffee"),
		p(`MC\s*DONALDS|MCDONALD`, "McDonald's", "Food & Drink", "Fast Food"),
		p(`CHIPOTLE`, "Chipotle", "Food & Drink", "Fast Food"),
		p(`UBER\s*EATS`, "Uber Eats", "Food & Drink", "Delivery"),
		p(`DOORDASH`, "DoorDash", "Food & Drink", "Delivery"),
		p(`GRUBHUB`, "Grubhub", "Food & Drink", "Delivery"),

		// Transport
		p(`\bUBER\b`, "Uber", "Transport", "Rideshare"),
		p(`\bLYFT\b`, "Lyft", "Transport", "Rideshare"),
		p(`SHELL\s*OIL|\bCHEVRON\b|\bEXXON`, "Fuel", "Transport", "Fuel"),
		p(`DELTA\s*AIR|UNITED\s*AIR|ALASKA\s*AIR|RYANAIR`, "Airline", "Transport", "Flights"),

		// Utilities
		p(`COMCAST|XFINITY`, "Comcast", "Utilities", "Internet"),
		p(`VERIZON`, "Verizon", "Utilities", "Telecom"),
		p(`T-MOBILE|TMOBILE`, "T-Mobile", "Utilities", "Telecom"),
		p(`PUGET\s*SOUND\s*ENERGY|\bPSE\b`, "Puget Sound Energy", "Utilities", "Electricity"),

		// Shopping
		p(`AMAZON|AMZN`, "Amazon", "Shopping", "Online"),
		p(`\bTARGET\b`, "Target", "Shopping", "General"),
		p(`WAL-?MART`, "Walmart", "Shopping", "General"),
		p(`\bIKEA\b`, "IKEA", "Shopping", "Home"),
		p(`HOME\s*DEPOT`, "Home Depot", "Shopping", "Home"),

		// Entertainment
		p(`NETFLIX`, "Netflix", "Entertainment", "Streaming"),
		p(`SPOTIFY`, "Spotify", "Entertainment", "Streaming"),
		p(`DISNEY\s*\+|DISNEYPLUS`, "Disney+", "Entertainment", "Streaming"),
		p(`APPLE\.COM|APPLE\s*MUSIC`, "Apple", "Entertainment", "Streaming"),
		p(`STEAM\s*GAMES|STEAMPOWERED`, "Steam", "Entertainment", "Gaming"),

		// Health
		p(`WALGREENS`, "Walgreens", "Health", "Pharmacy"),
		p(`\bCVS\b`, "CVS", "Health", "Pharmacy"),
		p(`FARMACIA`, "Farmácia", "Health", "Pharmacy"),

		// Finance
		p(`INTEREST\s*(PAID|EARNED|CHARGE)`, "Interest", "Finance", "Interest"),
		p(`\bFEE\b|SERVICE\s*CHARGE`, "Bank Fee", "Finance", "Fees"),
		p(`PAYPAL`, "PayPal", "Finance", "Payment"),
		p(`VENMO`, "Venmo", "Finance", "Payment"),
		p(`PAYROLL|DIRECT\s*DEP`, "Payroll", "Income", "Salary"),
		p(`ONLINE\s*TRANSFER|TRANSFER\s*(TO|FROM)`, "Transfer", "Transfers", "Internal"),
	}
}
