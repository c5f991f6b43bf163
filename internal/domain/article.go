package domain

// Article is one live ad for a physical unit as shown by the marketplace.
type Article struct {
	ID               string `json:"id"`
	ConfirmationDate string `json:"confirmationDate"`
	PriceText        string `json:"priceText"`
	FloorText        string `json:"floorText"`
	BrokerName       string `json:"brokerName,omitempty"`
	VerificationCode string `json:"verificationCode,omitempty"`
}

// RankedArticle decorates an Article with its positional rank and shared-rank group.
type RankedArticle struct {
	Article
	Rank        int  `json:"rank"`
	SharedRank  int  `json:"sharedRank"`
	SharedCount int  `json:"sharedCount"`
	IsShared    bool `json:"isShared"`
	// Total is only set on the element matching the unit's representative id.
	Total int `json:"total,omitempty"`
}

// CompetingAd is another ad on the same unit that competes with mine on price or floor exposure.
type CompetingAd struct {
	ID               string `json:"id"`
	Ranking          int    `json:"ranking"`
	PriceText        string `json:"priceText"`
	FloorText        string `json:"floorText"`
	IsFloorExposed   bool   `json:"isFloorExposed"`
	ConfirmationDate string `json:"confirmationDate"`
	BrokerName       string `json:"brokerName"`
	IsPriceLower     bool   `json:"isPriceLower"`
	IsPriceHigher    bool   `json:"isPriceHigher"`
}

// RankingAnalysis is the derived competitive picture for one of my ads. It is never persisted.
type RankingAnalysis struct {
	MyArticle                 *Article      `json:"myArticle"`
	MyRanking                 *int          `json:"myRanking"`
	MyFloorExposed            bool          `json:"myFloorExposed"`
	TotalCount                int           `json:"totalCount"`
	CompetingAds              []CompetingAd `json:"competingAds"`
	HasFloorExposureAdvantage bool          `json:"hasFloorExposureAdvantage"`
}
