package inspection

import (
	"strings"
	"unicode"
)

// Category is the technical condition category (KTS), I best to V worst.
type Category string

const (
	CategoryI   Category = "I"
	CategoryII  Category = "II"
	CategoryIII Category = "III"
	CategoryIV  Category = "IV"
	CategoryV   Category = "V"
)

// Categories lists all categories from best to worst.
var Categories = []Category{CategoryI, CategoryII, CategoryIII, CategoryIV, CategoryV}

// longer tokens first so "I" never wins inside "III" and "II" never inside "IV"
var substringOrder = []Category{CategoryIII, CategoryIV, CategoryV, CategoryII, CategoryI}

var categoryLabels = map[Category]string{
	CategoryI:   "Исправное",
	CategoryII:  "Работоспособное",
	CategoryIII: "Ограниченно работоспособное",
	CategoryIV:  "Неработоспособное",
	CategoryV:   "Предельное",
}

// Rank returns 1..5, or 0 for an unknown category.
func (c Category) Rank() int {
	for i, v := range Categories {
		if v == c {
			return i + 1
		}
	}
	return 0
}

// Label returns the normative name of the category.
func (c Category) Label() string {
	return categoryLabels[c]
}

// ParseCategory finds the category token on the first line of a kts value.
// An exact line wins, then the first whole word that is a category; otherwise
// the line is searched for III, IV, V, II, I in that order.
func ParseCategory(kts string) (Category, bool) {
	head := strings.ToUpper(firstLine(kts))
	if head == "" {
		return "", false
	}
	for _, c := range Categories {
		if head == string(c) {
			return c, true
		}
	}
	for _, word := range strings.FieldsFunc(head, func(r rune) bool { return !unicode.IsLetter(r) }) {
		for _, c := range Categories {
			if word == string(c) {
				return c, true
			}
		}
	}
	for _, c := range substringOrder {
		if strings.Contains(head, string(c)) {
			return c, true
		}
	}
	return "", false
}
