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

	model2 "github.com/blnkfinance/tillsync/api/model"
	"github.com/blnkfinance/tillsync/model"
)

func (a Api) CreateRefund(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	var newRefund model2.CreateRefund
	if err := c.ShouldBindJSON(&newRefund); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := newRefund.ValidateCreateRefund(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.tillsync.CreateRefundOrder(c.Request.Context(), id, newRefund.ToRefundRequests(), newRefund.Session)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetOrderRefundInfo(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.tillsync.GetOrderRefundInfo(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetRefundedOrders(c *gin.Context) {
	resp, err := a.tillsync.GetRefundedOrders(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if resp == nil {
		resp = []*model.OfflineOrder{}
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetRefundOrders(c *gin.Context) {
	resp, err := a.tillsync.GetRefundOrders(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if resp == nil {
		resp = []*model.OfflineOrder{}
	}

	c.JSON(http.StatusOK, resp)
}
