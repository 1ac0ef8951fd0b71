package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DonationRate задаёт долю суммы корзины, которая уходит в приют.
var DonationRate = decimal.NewFromFloat(0.1)

// CartItem описывает позицию корзины. Позиции уникальны по ProductID.
type CartItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

// Cart описывает гостевую корзину покупателя.
type Cart struct {
	ID        string
	IsGuest   bool
	Items     []CartItem
	// Version увеличивается при каждом успешном Save.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Add увеличивает количество товара на 1 или добавляет новую позицию.
func (c *Cart) Add(product Product) {
	for i := range c.Items {
		if c.Items[i].ProductID == product.ID {
			c.Items[i].Quantity++
			return
		}
	}
	c.Items = append(c.Items, CartItem{
		ProductID: product.ID,
		Name:      product.Name,
		Price:     product.Price,
		Quantity:  1,
	})
}

// Remove удаляет позицию целиком. Возвращает удалённую позицию, если она была.
func (c *Cart) Remove(productID string) (CartItem, bool) {
	for i, item := range c.Items {
		if item.ProductID == productID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return item, true
		}
	}
	return CartItem{}, false
}

// SetQuantity задаёт количество; ноль удаляет позицию.
func (c *Cart) SetQuantity(productID string, qty int) error {
	if qty < 0 {
		return ErrCartQtyInvalid
	}
	if qty == 0 {
		c.Remove(productID)
		return nil
	}
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items[i].Quantity = qty
			return nil
		}
	}
	return ErrProductNotFound
}

// Clear очищает корзину.
func (c *Cart) Clear() {
	c.Items = nil
}

// Total возвращает сумму корзины.
func (c Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// Donation возвращает пожертвование с суммы корзины, округлённое до копеек.
func (c Cart) Donation() decimal.Decimal {
	return c.Total().Mul(DonationRate).Round(2)
}

// Subtotal возвращает цену позиции с учётом количества.
func (i CartItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Donation возвращает пожертвование, которое даёт позиция целиком.
func (i CartItem) Donation() decimal.Decimal {
	return i.Subtotal().Mul(DonationRate).Round(2)
}

// ItemDonation возвращает пожертвование за одну единицу товара.
func ItemDonation(product Product) decimal.Decimal {
	return product.Price.Mul(DonationRate).Round(2)
}
