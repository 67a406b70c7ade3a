package web

import (
	"net/http"
	"strconv"

	"speaking-exam-subscription/internal/domain/model"
	"speaking-exam-subscription/internal/infra/logging"
	"speaking-exam-subscription/internal/infra/metrics"
	"speaking-exam-subscription/internal/usecase"
)

// clickWebhookHandler parses Click's form POST and always answers HTTP 200
// with a Click-coded JSON body; Click treats non-200 as "retry later", and
// every outcome we can express is already a reply code.
func (s *Server) clickWebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.WithProvider(r.Context(), string(model.ProviderClick))

		if err := r.ParseForm(); err != nil {
			metrics.IncWebhook(string(model.ProviderClick), "malformed")
			writeJSON(w, http.StatusOK, usecase.ClickReply{
				Error:     usecase.ClickReplyBadRequest,
				ErrorNote: "Error in request from click",
			})
			return
		}

		errCode, _ := strconv.Atoi(r.PostFormValue("error"))
		req := usecase.ClickRequest{
			ClickTransID:      r.PostFormValue("click_trans_id"),
			ServiceID:         r.PostFormValue("service_id"),
			MerchantTransID:   r.PostFormValue("merchant_trans_id"),
			MerchantPrepareID: r.PostFormValue("merchant_prepare_id"),
			Amount:            r.PostFormValue("amount"),
			Action:            r.PostFormValue("action"),
			ErrorCode:         errCode,
			SignTime:          r.PostFormValue("sign_time"),
			SignString:        r.PostFormValue("sign_string"),
		}

		reply := s.clickHook.Handle(ctx, req)
		if reply.Error == usecase.ClickReplySuccess {
			metrics.IncWebhook(string(model.ProviderClick), "ok")
		} else {
			metrics.IncWebhook(string(model.ProviderClick), "rejected")
		}
		writeJSON(w, http.StatusOK, reply)
	}
}
