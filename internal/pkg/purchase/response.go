package purchase

import "time"

// OrderResponse is the order object returned to the purchasing client.
type OrderResponse struct {
	ID               string    `json:"id"`
	BookID           string    `json:"book_id"`
	BookTitle        string    `json:"book_title"`
	BookAuthor       string    `json:"book_author"`
	Amount           int64     `json:"amount"`
	Status           string    `json:"status"`
	CommitDeadline   time.Time `json:"commit_deadline"`
	PaymentReference string    `json:"payment_reference"`
	SellerName       string    `json:"seller_name"`
	BuyerName        string    `json:"buyer_name"`
}

func (r *Result) Response() OrderResponse {
	item := r.Order.PrimaryItem()
	out := OrderResponse{
		ID:               r.Order.ID,
		BookID:           r.Order.BookID,
		BookTitle:        item.Title,
		BookAuthor:       item.Author,
		Amount:           r.Order.Amount,
		Status:           string(r.Order.Status),
		CommitDeadline:   r.Order.CommitDeadline,
		PaymentReference: r.Order.PaymentReference,
	}
	if r.Seller != nil {
		out.SellerName = r.Seller.DisplayName()
	}
	if r.Buyer != nil {
		out.BuyerName = r.Buyer.DisplayName()
	}
	return out
}
