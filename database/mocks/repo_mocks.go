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
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/blnkfinance/tillsync/model"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

func orders(v interface{}) []*model.OfflineOrder {
	if v == nil {
		return nil
	}
	return v.([]*model.OfflineOrder)
}

func order(v interface{}) *model.OfflineOrder {
	if v == nil {
		return nil
	}
	return v.(*model.OfflineOrder)
}

// Order methods

func (m *MockDataSource) SaveOrder(ctx context.Context, o *model.OfflineOrder) (*model.OfflineOrder, error) {
	args := m.Called(ctx, o)
	return order(args.Get(0)), args.Error(1)
}

func (m *MockDataSource) GetOrderByID(ctx context.Context, localID string) (*model.OfflineOrder, error) {
	args := m.Called(ctx, localID)
	return order(args.Get(0)), args.Error(1)
}

func (m *MockDataSource) UpdateOrder(ctx context.Context, o *model.OfflineOrder) error {
	args := m.Called(ctx, o)
	return args.Error(0)
}

func (m *MockDataSource) CompareAndSwapOrder(ctx context.Context, o *model.OfflineOrder, expected model.SyncStatus) error {
	args := m.Called(ctx, o, expected)
	return args.Error(0)
}

func (m *MockDataSource) DeleteOrder(ctx context.Context, localID string) error {
	args := m.Called(ctx, localID)
	return args.Error(0)
}

func (m *MockDataSource) GetStuckSyncingOrders(ctx context.Context, lastAttemptBefore time.Time) ([]*model.OfflineOrder, error) {
	args := m.Called(ctx, lastAttemptBefore)
	return orders(args.Get(0)), args.Error(1)
}

// Lookup methods

func (m *MockDataSource) GetAllOrders(ctx context.Context) ([]*model.OfflineOrder, error) {
	args := m.Called(ctx)
	return orders(args.Get(0)), args.Error(1)
}

func (m *MockDataSource) GetOrdersByStatus(ctx context.Context, statuses ...model.SyncStatus) ([]*model.OfflineOrder, error) {
	args := m.Called(ctx, statuses)
	return orders(args.Get(0)), args.Error(1)
}

func (m *MockDataSource) CountOrdersByStatus(ctx context.Context, statuses ...model.SyncStatus) (int, error) {
	args := m.Called(ctx, statuses)
	return args.Int(0), args.Error(1)
}

func (m *MockDataSource) FindOrderByBusinessID(ctx context.Context, orderID string) (*model.OfflineOrder, error) {
	args := m.Called(ctx, orderID)
	return order(args.Get(0)), args.Error(1)
}

func (m *MockDataSource) GetRefundedOrders(ctx context.Context) ([]*model.OfflineOrder, error) {
	args := m.Called(ctx)
	return orders(args.Get(0)), args.Error(1)
}

func (m *MockDataSource) GetRefundOrders(ctx context.Context) ([]*model.OfflineOrder, error) {
	args := m.Called(ctx)
	return orders(args.Get(0)), args.Error(1)
}
