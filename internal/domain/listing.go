package domain

// Listing is the operator's own listing snapshot, loaded when a batch runs.
type Listing struct {
	ID               string `json:"id"`
	ArticleNo        string `json:"articleNo"`
	RepresentativeID string `json:"representativeId"`
	Title            string `json:"title"`
	TradeType        string `json:"tradeType"`
	PriceText        string `json:"priceText"`
	RentText         string `json:"rentText,omitempty"`
}
