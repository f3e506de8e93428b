/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/blnkfinance/tillsync"
	"github.com/blnkfinance/tillsync/api/middleware"
	"github.com/blnkfinance/tillsync/config"
	"github.com/blnkfinance/tillsync/internal/apierror"
)

type Api struct {
	tillsync *tillsync.TillSync
	router   *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/orders", a.CreateOrder)
	router.GET("/orders", a.ListOrders)
	router.GET("/orders/pending/count", a.GetPendingOrdersCount)
	router.GET("/orders/refunded", a.GetRefundedOrders)
	router.GET("/orders/refunds", a.GetRefundOrders)
	router.GET("/orders/:id", a.GetOrder)
	router.DELETE("/orders/:id", a.DeleteOrder)
	router.POST("/orders/:id/finalize", a.FinalizeOrder)
	router.POST("/orders/:id/resync", a.ForceResync)
	router.POST("/orders/:id/sync", a.SyncOrder)
	router.POST("/orders/:id/refunds", a.CreateRefund)
	router.GET("/orders/:id/refund-info", a.GetOrderRefundInfo)

	router.POST("/sync", a.SyncAllPending)
	router.GET("/connectivity", a.GetConnectivity)
	return a.router
}

func NewAPI(s *tillsync.TillSync) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(otelgin.Middleware("tillsync"))
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware("/"))
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{tillsync: s, router: r}
}

// respondError writes err with the status its code maps to.
func respondError(c *gin.Context, err error) {
	c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": apierror.Message(err)})
}
