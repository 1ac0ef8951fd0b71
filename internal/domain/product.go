package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CopyNameSuffix добавляется к названию товара при дублировании.
const CopyNameSuffix = " (Copy)"

// Product описывает позицию каталога витрины.
type Product struct {
	// ID: непрозрачный идентификатор, выдаётся хранилищем и не переиспользуется.
	ID          string
	Name        string
	Price       decimal.Decimal
	Description string
	ImageURL    string
	// Пищевая ценность.
	Kcal    float64
	Protein float64
	Fats    float64
	Carbs   float64
	// DisplayOrder задаёт полный порядок товаров: значения образуют 1..N.
	DisplayOrder int
	// Hidden скрывает товар из витрины, но не из админки и не из нумерации.
	Hidden    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProductInput содержит поля нового товара без ID и DisplayOrder.
type ProductInput struct {
	Name        string
	Price       decimal.Decimal
	Description string
	ImageURL    string
	Kcal        float64
	Protein     float64
	Fats        float64
	Carbs       float64
	Hidden      bool
}

// ProductPatch описывает частичное обновление: nil-поля не меняются.
// DisplayOrder сюда не входит: порядок меняет только reorder.
type ProductPatch struct {
	Name        *string
	Price       *decimal.Decimal
	Description *string
	ImageURL    *string
	Kcal        *float64
	Protein     *float64
	Fats        *float64
	Carbs       *float64
	Hidden      *bool
}

// ProductStats содержит агрегаты каталога, нужные для выдачи display_order.
type ProductStats struct {
	Count           int
	MaxDisplayOrder int
}

// NextDisplayOrder возвращает позицию для добавления в конец каталога.
// При соблюдённом инварианте Count == MaxDisplayOrder и результат равен N+1;
// max защищает от коллизии, если в данных остался разрыв.
func (s ProductStats) NextDisplayOrder() int {
	if s.MaxDisplayOrder > s.Count {
		return s.MaxDisplayOrder + 1
	}
	return s.Count + 1
}

// Validate проверяет поля нового товара.
func (in ProductInput) Validate() []error {
	return validateProductFields(in.Name, in.Price, in.Kcal, in.Protein, in.Fats, in.Carbs)
}

// ValidateInvariants проверяет изменяемые поля товара.
func (p *Product) ValidateInvariants() []error {
	return validateProductFields(p.Name, p.Price, p.Kcal, p.Protein, p.Fats, p.Carbs)
}

func validateProductFields(name string, price decimal.Decimal, nutrition ...float64) []error {
	var errs []error
	if strings.TrimSpace(name) == "" {
		errs = append(errs, ErrProductNameRequired)
	}
	if price.IsNegative() {
		errs = append(errs, ErrProductPriceInvalid)
	}
	for _, v := range nutrition {
		if v < 0 {
			errs = append(errs, ErrNutritionInvalid)
			break
		}
	}
	return errs
}

// Input возвращает поля товара в виде ProductInput.
func (p Product) Input() ProductInput {
	return ProductInput{
		Name:        p.Name,
		Price:       p.Price,
		Description: p.Description,
		ImageURL:    p.ImageURL,
		Kcal:        p.Kcal,
		Protein:     p.Protein,
		Fats:        p.Fats,
		Carbs:       p.Carbs,
		Hidden:      p.Hidden,
	}
}

// Patch возвращает полное обновление всех изменяемых полей товара.
func (p Product) Patch() ProductPatch {
	price := p.Price
	return ProductPatch{
		Name:        &p.Name,
		Price:       &price,
		Description: &p.Description,
		ImageURL:    &p.ImageURL,
		Kcal:        &p.Kcal,
		Protein:     &p.Protein,
		Fats:        &p.Fats,
		Carbs:       &p.Carbs,
		Hidden:      &p.Hidden,
	}
}

// Empty сообщает, что патч ничего не меняет.
func (p ProductPatch) Empty() bool {
	return p.Name == nil && p.Price == nil && p.Description == nil && p.ImageURL == nil &&
		p.Kcal == nil && p.Protein == nil && p.Fats == nil && p.Carbs == nil && p.Hidden == nil
}

// Apply применяет патч к копии товара.
func (p ProductPatch) Apply(product Product) Product {
	if p.Name != nil {
		product.Name = *p.Name
	}
	if p.Price != nil {
		product.Price = *p.Price
	}
	if p.Description != nil {
		product.Description = *p.Description
	}
	if p.ImageURL != nil {
		product.ImageURL = *p.ImageURL
	}
	if p.Kcal != nil {
		product.Kcal = *p.Kcal
	}
	if p.Protein != nil {
		product.Protein = *p.Protein
	}
	if p.Fats != nil {
		product.Fats = *p.Fats
	}
	if p.Carbs != nil {
		product.Carbs = *p.Carbs
	}
	if p.Hidden != nil {
		product.Hidden = *p.Hidden
	}
	return product
}

// NeedsOrderRepair сообщает, нарушен ли инвариант 1..N для переданного среза,
// отсортированного по DisplayOrder: нули, дубликаты или разрывы.
func NeedsOrderRepair(products []Product) bool {
	for i, p := range products {
		if p.DisplayOrder != i+1 {
			return true
		}
	}
	return false
}
