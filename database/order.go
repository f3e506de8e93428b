package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/blnkfinance/tillsync/internal/apierror"
	"github.com/blnkfinance/tillsync/model"
)

var tracer = otel.Tracer("tillsync.database")

const orderColumns = `local_id, order_id, order_payload, sync_status, created_at, sync_attempts, last_sync_attempt, sync_date, sync_error, is_refund, has_been_refunded, refund_history, server_order_id, version`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func encodeOrder(o *model.OfflineOrder) (payload []byte, history []byte, err error) {
	payload, err = json.Marshal(o.OrderPayload)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrStorage, "Failed to marshal order payload", err)
	}
	refunds := o.RefundHistory
	if refunds == nil {
		refunds = []model.RefundRecord{}
	}
	history, err = json.Marshal(refunds)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrStorage, "Failed to marshal refund history", err)
	}
	return payload, history, nil
}

func scanOrder(row rowScanner) (*model.OfflineOrder, error) {
	o := &model.OfflineOrder{}
	var (
		payloadJSON     []byte
		historyJSON     sql.NullString
		status          string
		lastSyncAttempt sql.NullTime
		syncDate        sql.NullTime
		syncError       sql.NullString
		serverOrderID   sql.NullString
	)
	err := row.Scan(&o.LocalID, &o.OrderID, &payloadJSON, &status, &o.Timestamp, &o.SyncAttempts,
		&lastSyncAttempt, &syncDate, &syncError, &o.IsRefund, &o.HasBeenRefunded, &historyJSON, &serverOrderID, &o.Version)
	if err != nil {
		return nil, err
	}
	o.SyncStatus = model.SyncStatus(status)
	o.Error = syncError.String
	o.ServerOrderID = serverOrderID.String
	if lastSyncAttempt.Valid {
		t := lastSyncAttempt.Time
		o.LastSyncAttempt = &t
	}
	if syncDate.Valid {
		t := syncDate.Time
		o.SyncDate = &t
	}
	if err := json.Unmarshal(payloadJSON, &o.OrderPayload); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrStorage, "Failed to unmarshal order payload", err)
	}
	if historyJSON.Valid && historyJSON.String != "" {
		if err := json.Unmarshal([]byte(historyJSON.String), &o.RefundHistory); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrStorage, "Failed to unmarshal refund history", err)
		}
	}
	return o, nil
}

func (d Datasource) queryOrders(ctx context.Context, query string, args ...interface{}) ([]*model.OfflineOrder, error) {
	rows, err := d.Conn.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrStorage, "Failed to retrieve orders", err)
	}
	defer rows.Close()

	orders := []*model.OfflineOrder{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrStorage, "Failed to scan order data", err)
		}
		orders = append(orders, o)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrStorage, "Error occurred while iterating over orders", err)
	}
	return orders, nil
}

// SaveOrder assigns a fresh local id, stamps the creation time, settles the
// refund flag and persists the order as a draft.
func (d Datasource) SaveOrder(ctx context.Context, o *model.OfflineOrder) (*model.OfflineOrder, error) {
	ctx, span := tracer.Start(ctx, "Saving offline order")
	defer span.End()

	o.LocalID = model.GenerateUUIDWithSuffix("ord")
	o.SyncStatus = model.StatusDraft
	if o.Timestamp.IsZero() {
		o.Timestamp = time.Now().UTC()
	}
	if o.OrderID == "" {
		o.OrderID = o.OrderPayload.OrderID
	}
	if o.OrderID == "" {
		o.OrderID = model.GenerateUUIDWithSuffix("pos")
	}
	o.OrderPayload.OrderID = o.OrderID
	o.IsRefund = model.DetectRefund(o)
	o.OrderPayload.IsRefund = o.IsRefund
	o.SyncAttempts = 0
	o.Error = ""
	o.ServerOrderID = ""
	o.Version = 0
	if o.RefundHistory == nil {
		o.RefundHistory = []model.RefundRecord{}
	}

	payload, history, err := encodeOrder(o)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	_, err = d.Conn.ExecContext(ctx, d.rebind(`
		INSERT INTO offline_orders (`+orderColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		o.LocalID, o.OrderID, string(payload), string(o.SyncStatus), o.Timestamp.UTC(), o.SyncAttempts,
		nullTime(o.LastSyncAttempt), nullTime(o.SyncDate), nullString(o.Error), o.IsRefund, o.HasBeenRefunded,
		string(history), nullString(o.ServerOrderID), o.Version, time.Now().UTC(),
	)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrStorage, "Failed to save order", err)
	}
	return o, nil
}

func (d Datasource) GetOrderByID(ctx context.Context, localID string) (*model.OfflineOrder, error) {
	row := d.Conn.QueryRowContext(ctx, d.rebind(`SELECT `+orderColumns+` FROM offline_orders WHERE local_id = ?`), localID)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Order with ID '%s' not found", localID), nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrStorage, "Failed to retrieve order", err)
	}
	return o, nil
}

func (d Datasource) FindOrderByBusinessID(ctx context.Context, orderID string) (*model.OfflineOrder, error) {
	row := d.Conn.QueryRowContext(ctx, d.rebind(`SELECT `+orderColumns+` FROM offline_orders WHERE order_id = ? ORDER BY created_at ASC LIMIT 1`), orderID)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Order with order ID '%s' not found", orderID), nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrStorage, "Failed to retrieve order", err)
	}
	return o, nil
}

func (d Datasource) GetAllOrders(ctx context.Context) ([]*model.OfflineOrder, error) {
	return d.queryOrders(ctx, `SELECT `+orderColumns+` FROM offline_orders ORDER BY created_at ASC`)
}

func (d Datasource) GetOrdersByStatus(ctx context.Context, statuses ...model.SyncStatus) ([]*model.OfflineOrder, error) {
	if len(statuses) == 0 {
		return []*model.OfflineOrder{}, nil
	}
	query := `SELECT ` + orderColumns + ` FROM offline_orders WHERE ` + inClause("sync_status", len(statuses)) + ` ORDER BY created_at ASC`
	return d.queryOrders(ctx, query, statusArgs(toStrings(statuses))...)
}

func (d Datasource) CountOrdersByStatus(ctx context.Context, statuses ...model.SyncStatus) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	var count int
	query := `SELECT COUNT(*) FROM offline_orders WHERE ` + inClause("sync_status", len(statuses))
	err := d.Conn.QueryRowContext(ctx, d.rebind(query), statusArgs(toStrings(statuses))...).Scan(&count)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrStorage, "Failed to count orders", err)
	}
	return count, nil
}

func (d Datasource) GetRefundedOrders(ctx context.Context) ([]*model.OfflineOrder, error) {
	return d.queryOrders(ctx, `SELECT `+orderColumns+` FROM offline_orders WHERE has_been_refunded = ? ORDER BY created_at ASC`, true)
}

func (d Datasource) GetRefundOrders(ctx context.Context) ([]*model.OfflineOrder, error) {
	return d.queryOrders(ctx, `SELECT `+orderColumns+` FROM offline_orders WHERE is_refund = ? ORDER BY created_at ASC`, true)
}

func (d Datasource) GetStuckSyncingOrders(ctx context.Context, lastAttemptBefore time.Time) ([]*model.OfflineOrder, error) {
	return d.queryOrders(ctx, `SELECT `+orderColumns+` FROM offline_orders WHERE sync_status = ? AND (last_sync_attempt IS NULL OR last_sync_attempt < ?) ORDER BY created_at ASC`,
		string(model.StatusSyncing), lastAttemptBefore.UTC())
}

const updateOrderSQL = `
		UPDATE offline_orders
		SET order_id = ?, order_payload = ?, sync_status = ?, sync_attempts = ?, last_sync_attempt = ?,
			sync_date = ?, sync_error = ?, is_refund = ?, has_been_refunded = ?, refund_history = ?,
			server_order_id = ?, updated_at = ?, version = version + 1
		WHERE local_id = ?`

func (d Datasource) updateArgs(o *model.OfflineOrder) ([]interface{}, error) {
	payload, history, err := encodeOrder(o)
	if err != nil {
		return nil, err
	}
	return []interface{}{
		o.OrderID, string(payload), string(o.SyncStatus), o.SyncAttempts, nullTime(o.LastSyncAttempt),
		nullTime(o.SyncDate), nullString(o.Error), o.IsRefund, o.HasBeenRefunded, string(history),
		nullString(o.ServerOrderID), time.Now().UTC(), o.LocalID,
	}, nil
}

// UpdateOrder replaces the whole persisted record with o. The local id and
// creation time are never rewritten. The stored version moves on; callers
// that compare-and-swap afterwards must read the record again.
func (d Datasource) UpdateOrder(ctx context.Context, o *model.OfflineOrder) error {
	args, err := d.updateArgs(o)
	if err != nil {
		return err
	}
	result, err := d.Conn.ExecContext(ctx, d.rebind(updateOrderSQL), args...)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrStorage, "Failed to update order", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrStorage, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Order with ID '%s' not found", o.LocalID), nil)
	}
	return nil
}

// CompareAndSwapOrder replaces the record only while it is exactly the one
// o was read from: same status and same version. Any write in between,
// including one that kept the status, makes this a RACE_SKIPPED error and
// the caller must read the order again. On success o carries the new version.
func (d Datasource) CompareAndSwapOrder(ctx context.Context, o *model.OfflineOrder, expected model.SyncStatus) error {
	ctx, span := tracer.Start(ctx, "Compare and swap offline order")
	defer span.End()

	args, err := d.updateArgs(o)
	if err != nil {
		return err
	}
	args = append(args, string(expected), o.Version)
	result, err := d.Conn.ExecContext(ctx, d.rebind(updateOrderSQL+` AND sync_status = ? AND version = ?`), args...)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrStorage, "Failed to update order", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrStorage, "Failed to get rows affected", err)
	}
	if rowsAffected > 0 {
		o.Version++
		return nil
	}

	status, version, err := d.currentState(ctx, o.LocalID)
	if err != nil {
		return err
	}
	return apierror.NewAPIError(apierror.ErrRaceSkipped,
		fmt.Sprintf("Order '%s' is %s at version %d, expected %s at version %d", o.LocalID, status, version, expected, o.Version), nil)
}

func (d Datasource) currentState(ctx context.Context, localID string) (model.SyncStatus, int64, error) {
	var (
		status  string
		version int64
	)
	err := d.Conn.QueryRowContext(ctx, d.rebind(`SELECT sync_status, version FROM offline_orders WHERE local_id = ?`), localID).Scan(&status, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", 0, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Order with ID '%s' not found", localID), nil)
		}
		return "", 0, apierror.NewAPIError(apierror.ErrStorage, "Failed to read order status", err)
	}
	return model.SyncStatus(status), version, nil
}

func (d Datasource) DeleteOrder(ctx context.Context, localID string) error {
	result, err := d.Conn.ExecContext(ctx, d.rebind(`DELETE FROM offline_orders WHERE local_id = ?`), localID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrStorage, "Failed to delete order", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrStorage, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Order with ID '%s' not found", localID), nil)
	}
	return nil
}

func toStrings(statuses []model.SyncStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = strings.ToLower(string(s))
	}
	return out
}
