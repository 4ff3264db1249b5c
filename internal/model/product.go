package model

// ProductKind is the closed set of goods a provider can publish as a batch.
type ProductKind string

// Product kinds.
const (
	ProductMeal    ProductKind = "meal"
	ProductBread   ProductKind = "bread"
	ProductPastry  ProductKind = "pastry"
	ProductProduce ProductKind = "produce"
	ProductDairy   ProductKind = "dairy"
	ProductCanned  ProductKind = "canned"
)

var productKinds = map[ProductKind]bool{
	ProductMeal:    true,
	ProductBread:   true,
	ProductPastry:  true,
	ProductProduce: true,
	ProductDairy:   true,
	ProductCanned:  true,
}

// Valid reports whether k is a known product kind.
func (k ProductKind) Valid() bool {
	return productKinds[k]
}

// RequestKind distinguishes aggregate meal requests from itemised ingredient requests.
type RequestKind string

// Request kinds.
const (
	RequestMeal       RequestKind = "meal"
	RequestIngredient RequestKind = "ingredient"
)

// Valid reports whether k is a known request kind.
func (k RequestKind) Valid() bool {
	return k == RequestMeal || k == RequestIngredient
}

// MealItemName and MealItemUnit describe the single line of a meal request.
const (
	MealItemName = "meals"
	MealItemUnit = "portion"
)
