package types

import cbigquery "cloud.google.com/go/bigquery"

func required(name string, t cbigquery.FieldType) *cbigquery.FieldSchema {
	return &cbigquery.FieldSchema{Name: name, Type: t, Required: true}
}

func nullable(name string, t cbigquery.FieldType) *cbigquery.FieldSchema {
	return &cbigquery.FieldSchema{Name: name, Type: t}
}

// PaymentEventSchema matches PaymentEventRow.
var PaymentEventSchema = cbigquery.Schema{
	required("event_id", cbigquery.StringFieldType),
	required("event_type", cbigquery.StringFieldType),
	required("occurred_at", cbigquery.TimestampFieldType),
	nullable("external_payment_id", cbigquery.StringFieldType),
	nullable("order_id", cbigquery.StringFieldType),
	nullable("account_id", cbigquery.StringFieldType),
	nullable("withdrawal_id", cbigquery.StringFieldType),
	nullable("outcome", cbigquery.StringFieldType),
	nullable("status", cbigquery.StringFieldType),
	nullable("amount", cbigquery.IntegerFieldType),
	nullable("bucket", cbigquery.StringFieldType),
	nullable("entry_type", cbigquery.StringFieldType),
	nullable("sequence", cbigquery.IntegerFieldType),
	nullable("balance_after", cbigquery.IntegerFieldType),
	nullable("payload", cbigquery.JSONFieldType),
}

// OrderEventSchema matches OrderEventRow.
var OrderEventSchema = cbigquery.Schema{
	required("event_id", cbigquery.StringFieldType),
	required("event_type", cbigquery.StringFieldType),
	required("occurred_at", cbigquery.TimestampFieldType),
	required("order_id", cbigquery.StringFieldType),
	nullable("buyer_id", cbigquery.StringFieldType),
	nullable("seller_id", cbigquery.StringFieldType),
	nullable("event", cbigquery.StringFieldType),
	nullable("from_state", cbigquery.StringFieldType),
	required("to_state", cbigquery.StringFieldType),
	required("amount", cbigquery.IntegerFieldType),
	required("currency", cbigquery.StringFieldType),
	nullable("platform_fee", cbigquery.IntegerFieldType),
	nullable("external_payment_id", cbigquery.StringFieldType),
	nullable("actor_id", cbigquery.StringFieldType),
	nullable("actor_role", cbigquery.StringFieldType),
	nullable("payload", cbigquery.JSONFieldType),
}
