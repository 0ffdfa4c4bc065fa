package skyapi

import (
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// queryDateFormat is the MM-DD-YYYY form the gift list filters accept.
const queryDateFormat = "01-02-2006"

// GiftListURL is the gift list endpoint under baseURL.
func GiftListURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/gift/v1/gifts"
}

// GiftListParams filters the gift list to the given gift types dated on
// or after from.
func GiftListParams(giftTypes []string, from civil.Date) url.Values {
	params := url.Values{}
	for _, t := range giftTypes {
		params.Add("gift_type", t)
	}
	params.Set("start_gift_date", from.In(time.UTC).Format(queryDateFormat))
	return params
}

// ConstituentURL is the constituent record endpoint for id.
func ConstituentURL(baseURL, id string) string {
	return strings.TrimRight(baseURL, "/") + "/constituent/v1/constituents/" + url.PathEscape(id)
}

// CampaignURL is the campaign record endpoint for id.
func CampaignURL(baseURL, id string) string {
	return strings.TrimRight(baseURL, "/") + "/fundraising/v1/campaigns/" + url.PathEscape(id)
}
