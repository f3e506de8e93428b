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
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	model2 "github.com/blnkfinance/tillsync/api/model"
	"github.com/blnkfinance/tillsync/model"
)

func (a Api) CreateOrder(c *gin.Context) {
	var newOrder model2.CreateOrder
	if err := c.ShouldBindJSON(&newOrder); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := newOrder.ValidateCreateOrder(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.tillsync.SaveOrder(c.Request.Context(), newOrder.ToBuildInput())
	if err != nil {
		respondError(c, err)
		return
	}

	if newOrder.Finalize {
		resp, err = a.tillsync.FinalizeOrder(c.Request.Context(), resp.LocalID)
		if err != nil {
			respondError(c, err)
			return
		}
	}

	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetOrder(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.tillsync.GetOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ListOrders returns every order, or those matching ?status=a,b.
func (a Api) ListOrders(c *gin.Context) {
	var statuses []model.SyncStatus
	for _, param := range c.QueryArray("status") {
		for _, raw := range strings.Split(param, ",") {
			status, err := model.ParseSyncStatus(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			statuses = append(statuses, status)
		}
	}

	resp, err := a.tillsync.ListOrders(c.Request.Context(), statuses...)
	if err != nil {
		respondError(c, err)
		return
	}
	if resp == nil {
		resp = []*model.OfflineOrder{}
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetPendingOrdersCount(c *gin.Context) {
	count, err := a.tillsync.GetPendingOrdersCount(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (a Api) FinalizeOrder(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.tillsync.FinalizeOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) ForceResync(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.tillsync.ForceResync(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// DeleteOrder removes an order the ledger already has. Only synced orders
// can be removed.
func (a Api) DeleteOrder(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	order, err := a.tillsync.GetOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if order.IsRefund {
		err = a.tillsync.RemoveConfirmedRefund(c.Request.Context(), id)
	} else {
		err = a.tillsync.PurgeSyncedOrder(c.Request.Context(), id)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a Api) SyncOrder(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}
	force := false
	if raw := c.Query("force"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "force must be true or false"})
			return
		}
		force = parsed
	}

	resp := a.tillsync.SyncOrder(c.Request.Context(), id, force)
	switch {
	case resp.Reason == model.ReasonNotFound:
		c.JSON(http.StatusNotFound, resp)
	case resp.Reason == model.ReasonOffline:
		c.JSON(http.StatusServiceUnavailable, resp)
	case resp.Reason == model.ReasonLocked || resp.Reason == model.ReasonRaceSkipped:
		c.JSON(http.StatusConflict, resp)
	default:
		c.JSON(http.StatusOK, resp)
	}
}

func (a Api) SyncAllPending(c *gin.Context) {
	resp := a.tillsync.SyncAllPending(c.Request.Context())
	switch resp.Reason {
	case model.ReasonOffline:
		c.JSON(http.StatusServiceUnavailable, resp)
	case model.ReasonInProgress:
		c.JSON(http.StatusConflict, resp)
	case model.ReasonStorage:
		c.JSON(http.StatusInternalServerError, resp)
	default:
		c.JSON(http.StatusOK, resp)
	}
}

func (a Api) GetConnectivity(c *gin.Context) {
	monitor := a.tillsync.Monitor()
	if c.Query("check") == "true" {
		monitor.CheckConnection(c.Request.Context())
	}

	resp := gin.H{"online": monitor.IsOnline()}
	if last := monitor.LastChecked(); !last.IsZero() {
		resp["last_checked"] = last
	}
	c.JSON(http.StatusOK, resp)
}

