package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/txledger/internal/redaction"
	"github.com/smallbiznis/txledger/internal/transaction/domain"
	"github.com/smallbiznis/txledger/internal/transaction/state"
	"github.com/smallbiznis/txledger/pkg/db/pagination"
)

type stateView struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Finished bool   `json:"finished"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
}

type transactionView struct {
	*domain.Transaction
	State             stateView           `json:"state"`
	CardDetails       *domain.CardDetails `json:"card_details,omitempty"`
	PaymentExternalID string              `json:"payment_external_id,omitempty"`
	RefundedBy        string              `json:"refunded_by,omitempty"`
	Reason            string              `json:"reason,omitempty"`
	EvidenceDueDate   *time.Time          `json:"evidence_due_date,omitempty"`
	PaidOutDate       *time.Time          `json:"paid_out_date,omitempty"`
}

func newTransactionView(t *domain.Transaction, v state.Version) transactionView {
	view := transactionView{
		Transaction: t,
		State:       stateView{Name: t.State},
	}
	if st, ok := t.ResolvedState(); ok {
		ext := st.External(v)
		view.State.Status = ext.Status
		view.State.Finished = st.Finished
		view.State.Code = ext.Code
		view.State.Message = ext.Message
	}

	switch variant := t.Variant().(type) {
	case domain.Payment:
		card := variant.CardDetails()
		if card != (domain.CardDetails{}) {
			view.CardDetails = &card
		}
	case domain.Refund:
		view.PaymentExternalID = variant.PaymentExternalID()
		view.RefundedBy = variant.RefundedBy()
	case domain.Dispute:
		view.PaymentExternalID = variant.PaymentExternalID()
		view.Reason = variant.Reason()
		if due, ok := variant.EvidenceDueDate(); ok {
			view.EvidenceDueDate = &due
		}
	case domain.Payout:
		if paid, ok := variant.PaidOutDate(); ok {
			view.PaidOutDate = &paid
		}
	}
	return view
}

func newTransactionViews(items []domain.Transaction, v state.Version) []transactionView {
	out := make([]transactionView, 0, len(items))
	for i := range items {
		out = append(out, newTransactionView(&items[i], v))
	}
	return out
}

func statusVersion(c *gin.Context, fallback state.Version) (state.Version, error) {
	raw := strings.TrimSpace(c.Query("status_version"))
	if raw == "" {
		return fallback, nil
	}
	v, err := state.ParseVersion(raw)
	if err != nil {
		return 0, domain.ErrInvalidVersion
	}
	return v, nil
}

func (s *Server) defaultVersion() state.Version {
	if s.search == nil {
		return state.V2
	}
	return s.search.DefaultStatusVersion()
}

func (s *Server) GetTransaction(c *gin.Context) {
	v, err := statusVersion(c, s.defaultVersion())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	item, err := s.search.GetByExternalID(c.Request.Context(), c.Param("id"), strings.TrimSpace(c.Query("account_id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newTransactionView(item, v)})
}

func (s *Server) ListTransactionEvents(c *gin.Context) {
	events, err := s.search.ListEvents(c.Request.Context(), c.Param("id"), strings.TrimSpace(c.Query("account_id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": events})
}

func (s *Server) SearchTransactions(c *gin.Context) {
	params, err := parseSearchParams(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	page, err := parseOptionalInt(c.Query("page"))
	if err != nil {
		AbortWithError(c, domain.ErrInvalidPage)
		return
	}
	size, err := parseOptionalInt(c.Query("page_size"))
	if err != nil {
		AbortWithError(c, domain.ErrInvalidPageSize)
		return
	}

	res, err := s.search.Search(c.Request.Context(), params, page, size)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	v := params.StatusVersion
	if !v.Valid() {
		v = s.defaultVersion()
	}
	c.JSON(http.StatusOK, gin.H{
		"data":         newTransactionViews(res.Items, v),
		"page":         res.Page,
		"page_size":    res.Size,
		"total":        res.Total,
		"total_capped": res.Capped,
	})
}

func (s *Server) SearchTransactionsCursor(c *gin.Context) {
	var pg pagination.Pagination
	if err := c.ShouldBindQuery(&pg); err != nil {
		AbortWithError(c, domain.ErrInvalidPageSize)
		return
	}
	params, err := parseSearchParams(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	direction := domain.CursorNext
	switch strings.ToLower(strings.TrimSpace(c.Query("direction"))) {
	case "", string(domain.CursorNext):
	case string(domain.CursorPrevious):
		direction = domain.CursorPrevious
	default:
		AbortWithError(c, newValidationError("direction", "invalid_direction", "must be next or previous"))
		return
	}

	page, err := s.search.SearchCursor(c.Request.Context(), params, pg.PageToken, pg.PageSize, direction)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	v := params.StatusVersion
	if !v.Valid() {
		v = s.defaultVersion()
	}
	c.JSON(http.StatusOK, gin.H{
		"data": newTransactionViews(page.Items, v),
		"page_info": pagination.PageInfo{
			NextPageToken:     page.NextCursor,
			PreviousPageToken: page.PreviousCursor,
			HasMore:           page.HasMore,
		},
	})
}

func (s *Server) GetWatermark(c *gin.Context) {
	wm, found, err := s.watermarks.Get(c.Request.Context(), s.db, redaction.WatermarkName)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !found {
		AbortWithError(c, ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": wm})
}

func (s *Server) ReprojectTransaction(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		AbortWithError(c, domain.ErrInvalidExternalID)
		return
	}

	out, err := s.reconciler.Reproject(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"deferred":      out.Deferred,
			"not_projected": out.NotProjected,
			"cross_type":    out.CrossType,
			"result":        out.Upsert.Result,
			"skip_reason":   out.Upsert.SkipReason,
		},
	})
}
