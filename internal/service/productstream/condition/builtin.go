// internal/service/productstream/condition/builtin.go
package condition

import (
	"fmt"
	"strconv"
	"strings"

	"productstream/internal/service/productstream/domain"
)

// 内置条件的 key。
const (
	KeyPrice             = "price"
	KeyManufacturer      = "manufacturer"
	KeyProperty          = "property"
	KeyAttribute         = "attribute"
	KeyCategory          = "category"
	KeyImmediateDelivery = "immediate_delivery"
	KeyHasPseudoPrice    = "has_pseudo_price"
	KeyCreateDate        = "create_date"
	KeyReleaseDate       = "release_date"
	KeyVoteAverage       = "vote_average"
	KeySales             = "sales"
	KeySearchTerm        = "search_term"
)

// PricePayload 价格区间，Max 为 0 表示不设上限。
type PricePayload struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

type ManufacturerPayload struct {
	ManufacturerIDs []int `json:"manufacturerIds"`
}

type PropertyPayload struct {
	GroupID  int   `json:"groupId"`
	ValueIDs []int `json:"valueIds"`
}

// AttributePayload 商品自由属性的比较条件。
type AttributePayload struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
}

type CategoryPayload struct {
	CategoryIDs []int `json:"categoryIds"`
}

// FlagPayload 用于无参数的开关型条件，存储为 {}。
type FlagPayload struct{}

type CreateDatePayload struct {
	Days int `json:"days"`
}

type ReleaseDatePayload struct {
	Direction string `json:"direction"`
	Days      int    `json:"days"`
}

type VoteAveragePayload struct {
	Average float64 `json:"average"`
}

type SalesPayload struct {
	MinSales int `json:"minSales"`
}

type SearchTermPayload struct {
	Value string `json:"value"`
}

// AttributeOperators 是属性条件允许的比较运算符。
var AttributeOperators = []string{
	"=", "!=", "<", "<=", ">", ">=",
	"IN", "NOT IN", "CONTAINS", "STARTS_WITH", "ENDS_WITH", "IS_NULL", "NOT_NULL",
}

var (
	priceRules = MustCompileRules(
		Rule{Expr: `value.min >= 0.0`, Message: "minimum price must not be negative"},
		Rule{Expr: `value.max == 0.0 || value.max >= value.min`, Message: "maximum price must not be lower than minimum price"},
	)
	manufacturerRules = MustCompileRules(
		Rule{Expr: `size(value.manufacturerIds) > 0`, Message: "select at least one manufacturer"},
	)
	propertyRules = MustCompileRules(
		Rule{Expr: `value.groupId > 0.0`, Message: "property group is required"},
		Rule{Expr: `size(value.valueIds) > 0`, Message: "select at least one property value"},
	)
	attributeRules = MustCompileRules(
		Rule{Expr: `size(value.field) > 0`, Message: "attribute field is required"},
		Rule{Expr: `value.operator in ` + celStringList(AttributeOperators), Message: "unsupported attribute operator"},
	)
	categoryRules = MustCompileRules(
		Rule{Expr: `size(value.categoryIds) > 0`, Message: "select at least one category"},
	)
	createDateRules = MustCompileRules(
		Rule{Expr: `value.days > 0.0`, Message: "days must be positive"},
	)
	releaseDateRules = MustCompileRules(
		Rule{Expr: `value.direction in ['past', 'future']`, Message: "direction must be past or future"},
		Rule{Expr: `value.days > 0.0`, Message: "days must be positive"},
	)
	voteAverageRules = MustCompileRules(
		Rule{Expr: `value.average >= 0.0 && value.average <= 5.0`, Message: "average must be between 0 and 5"},
	)
	salesRules = MustCompileRules(
		Rule{Expr: `value.minSales >= 0.0`, Message: "minimum sales must not be negative"},
	)
	searchTermRules = MustCompileRules(
		Rule{Expr: `value.value.matches('\\S')`, Message: "search term must not be blank"},
	)
)

func celStringList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = strconv.Quote(s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func NewPriceHandler() domain.Handler {
	return newStatic[PricePayload](KeyPrice, "Price", true, priceRules, nil)
}

func NewManufacturerHandler() domain.Handler {
	return newStatic(KeyManufacturer, "Manufacturer", true, manufacturerRules, func() ManufacturerPayload {
		return ManufacturerPayload{ManufacturerIDs: []int{}}
	})
}

// NewPropertyHandler 每个属性组一条条件，key 为 "property|<groupId>"。
func NewPropertyHandler() domain.Handler {
	return newKeyed(KeyProperty, "Property", propertyRules, func(v PropertyPayload) (string, error) {
		if v.GroupID <= 0 {
			return "", fmt.Errorf("property condition requires a groupId option")
		}
		return strconv.Itoa(v.GroupID), nil
	})
}

// NewAttributeHandler 每个属性字段一条条件，key 为 "attribute|<field>"。
func NewAttributeHandler() domain.Handler {
	return newKeyed(KeyAttribute, "Attribute", attributeRules, func(v AttributePayload) (string, error) {
		field := strings.TrimSpace(v.Field)
		if field == "" {
			return "", fmt.Errorf("attribute condition requires a field option")
		}
		return field, nil
	})
}

func NewImmediateDeliveryHandler() domain.Handler {
	return newStatic[FlagPayload](KeyImmediateDelivery, "Immediate delivery", true, nil, nil)
}

func NewHasPseudoPriceHandler() domain.Handler {
	return newStatic[FlagPayload](KeyHasPseudoPrice, "Has pseudo price", true, nil, nil)
}

func NewCreateDateHandler() domain.Handler {
	return newStatic(KeyCreateDate, "Create date", true, createDateRules, func() CreateDatePayload {
		return CreateDatePayload{Days: 30}
	})
}

func NewReleaseDateHandler() domain.Handler {
	return newStatic(KeyReleaseDate, "Release date", true, releaseDateRules, func() ReleaseDatePayload {
		return ReleaseDatePayload{Direction: "past", Days: 30}
	})
}

func NewVoteAverageHandler() domain.Handler {
	return newStatic[VoteAveragePayload](KeyVoteAverage, "Vote average", true, voteAverageRules, nil)
}

func NewSalesHandler() domain.Handler {
	return newStatic[SalesPayload](KeySales, "Sales", true, salesRules, nil)
}

func NewSearchTermHandler() domain.Handler {
	return newStatic[SearchTermPayload](KeySearchTerm, "Search term", true, searchTermRules, nil)
}
