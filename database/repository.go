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

package database

import (
	"context"
	"time"

	"github.com/blnkfinance/tillsync/model"
)

// IDataSource defines the interface for the local order store.
type IDataSource interface {
	order       // Interface for order persistence
	orderLookup // Interface for secondary lookups
}

// order defines the keyed, whole-record operations on offline orders.
type order interface {
	SaveOrder(ctx context.Context, order *model.OfflineOrder) (*model.OfflineOrder, error)                          // Persists a new order as draft
	GetOrderByID(ctx context.Context, localID string) (*model.OfflineOrder, error)                                  // Retrieves an order by local id
	UpdateOrder(ctx context.Context, order *model.OfflineOrder) error                                               // Replaces the whole record
	CompareAndSwapOrder(ctx context.Context, order *model.OfflineOrder, expected model.SyncStatus) error            // Replaces the record only if its persisted status is expected
	DeleteOrder(ctx context.Context, localID string) error                                                          // Deletes an order
	GetStuckSyncingOrders(ctx context.Context, lastAttemptBefore time.Time) ([]*model.OfflineOrder, error)          // Orders left in syncing by an interrupted process
}

// orderLookup defines the secondary index queries.
type orderLookup interface {
	GetAllOrders(ctx context.Context) ([]*model.OfflineOrder, error)                                  // Retrieves every order, oldest first
	GetOrdersByStatus(ctx context.Context, statuses ...model.SyncStatus) ([]*model.OfflineOrder, error) // Retrieves orders in any of the statuses
	CountOrdersByStatus(ctx context.Context, statuses ...model.SyncStatus) (int, error)                 // Counts orders in any of the statuses
	FindOrderByBusinessID(ctx context.Context, orderID string) (*model.OfflineOrder, error)             // Retrieves an order by its business id
	GetRefundedOrders(ctx context.Context) ([]*model.OfflineOrder, error)                              // Orders that have been refunded
	GetRefundOrders(ctx context.Context) ([]*model.OfflineOrder, error)                                // Orders that are refunds
}
