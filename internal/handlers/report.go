package handlers

import (
	"net/http"
	"time"

	"github.com/nkiryanov/pointledger/internal/handlers/render"
	"github.com/nkiryanov/pointledger/internal/logger"
)

func handleCampaignReport(ledgerService ledgerService, l logger.Logger) http.Handler {
	type response struct {
		CampaignID    string `json:"campaign_id"`
		Grants        int64  `json:"grants"`
		Users         int64  `json:"users"`
		PointsGranted int64  `json:"points_granted"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		campaignID := r.PathValue("campaign_id")

		summary, err := ledgerService.CampaignReport(r.Context(), campaignID)
		if err != nil {
			l.Error("Failed to build campaign report", "error", err, "campaign_id", campaignID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		render.JSON(w, response{
			CampaignID:    campaignID,
			Grants:        summary.Count,
			Users:         summary.Users,
			PointsGranted: summary.Total,
		})
	})
}

func handleCouponUsages(ledgerService ledgerService, l logger.Logger) http.Handler {
	type usage struct {
		UserID    string    `json:"user_id"`
		EventID   string    `json:"event_id"`
		CreatedAt time.Time `json:"created_at"`
	}
	type response struct {
		CouponID string  `json:"coupon_id"`
		Usages   []usage `json:"usages"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		couponID := r.PathValue("coupon_id")

		usages, err := ledgerService.ListCouponUsages(r.Context(), couponID)
		if err != nil {
			l.Error("Failed to list coupon usages", "error", err, "coupon_id", couponID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		resp := response{CouponID: couponID, Usages: make([]usage, 0, len(usages))}
		for _, u := range usages {
			resp.Usages = append(resp.Usages, usage{UserID: u.UserID, EventID: u.ExternalEventID, CreatedAt: u.CreatedAt})
		}

		render.JSON(w, resp)
	})
}
