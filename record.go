package protectql

import "context"

// EncryptRecord encrypts every declared column of table present in record,
// returning a new map. Fields already holding an encrypted payload and nil
// values are left alone (NULL preservation); undeclared fields pass through as
// plaintext.
func (o *Operators) EncryptRecord(ctx context.Context, table *Table, record map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(record))
	for k, v := range record {
		out[k] = v
	}
	for name := range table.columns {
		v, ok := record[name]
		if !ok || v == nil || IsEncryptedPayload(v) {
			continue
		}
		enc, err := o.engine.Encrypt(ctx, v, name, table.name)
		if err != nil {
			return nil, &EncryptionError{Op: "encryptRecord", Table: table.name, Column: name, Err: err}
		}
		out[name] = enc
	}
	return out, nil
}

// DecryptRecord decrypts every declared column of table present in record,
// returning a new map. Values that don't look like encrypted payloads are left
// alone.
func (o *Operators) DecryptRecord(ctx context.Context, table *Table, record map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(record))
	for k, v := range record {
		out[k] = v
	}
	for name := range table.columns {
		v, ok := record[name]
		if !ok || v == nil || !IsEncryptedPayload(v) {
			continue
		}
		payload, err := payloadFromAny(v)
		if err != nil {
			return nil, &EncryptionError{Op: "decryptRecord", Table: table.name, Column: name, Err: err}
		}
		plain, err := o.engine.Decrypt(ctx, payload)
		if err != nil {
			return nil, &EncryptionError{Op: "decryptRecord", Table: table.name, Column: name, Err: err}
		}
		out[name] = plain
	}
	return out, nil
}

// BulkDecryptRecords decrypts a result set in place order, returning new maps.
// One failing row fails the whole call.
func (o *Operators) BulkDecryptRecords(ctx context.Context, table *Table, records []map[string]any) ([]map[string]any, error) {
	out := make([]map[string]any, len(records))
	for i, r := range records {
		dec, err := o.DecryptRecord(ctx, table, r)
		if err != nil {
			return nil, err
		}
		out[i] = dec
	}
	return out, nil
}
