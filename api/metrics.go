package api

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeAuthorized = "authorized"
	outcomeRejected   = "rejected"
	outcomeError      = "error"
)

type loginMetrics struct {
	loginStarted    prometheus.Counter
	callbacksTotal  *prometheus.CounterVec
	usersCreated    prometheus.Counter
	tokenRevocation *prometheus.CounterVec
}

func newLoginMetrics(registry prometheus.Registerer) (*loginMetrics, error) {
	const op = "newLoginMetrics"
	m := &loginMetrics{
		loginStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "google_sso_login_started_total",
			Help: "登入流程開始的次數",
		}),
		callbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "google_sso_callbacks_total",
			Help: "callback 的處理結果",
		}, []string{"outcome", "reason"}), // outcome: authorized|rejected|error
		usersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "google_sso_users_created_total",
			Help: "透過 Google 登入建立的使用者數量",
		}),
		tokenRevocation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "google_sso_token_revocations_total",
			Help: "登出時撤銷 access token 的結果",
		}, []string{"result"}),
	}
	if registry == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.loginStarted, m.callbacksTotal, m.usersCreated, m.tokenRevocation} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("[%s] Fail to register collector, err=%w", op, err)
		}
	}
	return m, nil
}
