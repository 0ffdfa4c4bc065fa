package dataset

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
	"github.com/apache/arrow/go/v15/arrow/decimal128"
	"github.com/apache/arrow/go/v15/arrow/memory"
	"github.com/apache/arrow/go/v15/parquet"
	"github.com/apache/arrow/go/v15/parquet/compress"
	"github.com/apache/arrow/go/v15/parquet/pqarrow"
	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/shopspring/decimal"
)

// amountScale is the number of fractional digits stored for amounts.
const amountScale = 2

// maxAmount bounds amounts to what DECIMAL(18,2) can hold.
var maxAmount = decimal.New(1, 16)

const (
	colGiftID        = "gift_id"
	colConstituentID = "constituent_id"
	colCampaignID    = "campaign_id"
	colGiftType      = "gift_type"
	colAmount        = "amount"
	colGiftDate      = "gift_date"
	colDateAdded     = "date_added"
	colReceiptDate   = "receipt_date"
)

// GiftSchema is the columnar layout of the normalized snapshot.
var GiftSchema = arrow.NewSchema([]arrow.Field{
	{Name: colGiftID, Type: arrow.BinaryTypes.String},
	{Name: colConstituentID, Type: arrow.BinaryTypes.String},
	{Name: colCampaignID, Type: arrow.BinaryTypes.String},
	{Name: colGiftType, Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: colAmount, Type: &arrow.Decimal128Type{Precision: 18, Scale: amountScale}},
	{Name: colGiftDate, Type: arrow.FixedWidthTypes.Date32},
	{Name: colDateAdded, Type: &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}},
	{Name: colReceiptDate, Type: arrow.FixedWidthTypes.Date32},
}, nil)

// EncodeParquet renders gifts as a Snappy-compressed parquet file.
func EncodeParquet(gifts []domain.Gift) ([]byte, error) {
	mem := memory.DefaultAllocator

	b := array.NewRecordBuilder(mem, GiftSchema)
	defer b.Release()

	for _, g := range gifts {
		amount, err := toDecimal128(g.Amount)
		if err != nil {
			return nil, fmt.Errorf("EncodeParquet: gift %s: %w", g.ID, err)
		}
		b.Field(0).(*array.StringBuilder).Append(g.ID)
		b.Field(1).(*array.StringBuilder).Append(g.ConstituentID)
		b.Field(2).(*array.StringBuilder).Append(g.CampaignID)
		if g.GiftType == "" {
			b.Field(3).(*array.StringBuilder).AppendNull()
		} else {
			b.Field(3).(*array.StringBuilder).Append(g.GiftType)
		}
		b.Field(4).(*array.Decimal128Builder).Append(amount)
		b.Field(5).(*array.Date32Builder).Append(toDate32(g.Date))
		b.Field(6).(*array.TimestampBuilder).Append(arrow.Timestamp(g.DateAdded.UnixMicro()))
		b.Field(7).(*array.Date32Builder).Append(toDate32(g.ReceiptDate))
	}

	rec := b.NewRecord()
	defer rec.Release()

	var buf bytes.Buffer
	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	fw, err := pqarrow.NewFileWriter(GiftSchema, &buf, props, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		return nil, fmt.Errorf("EncodeParquet: creating writer: %w", err)
	}
	if err := fw.Write(rec); err != nil {
		fw.Close()
		return nil, fmt.Errorf("EncodeParquet: writing record: %w", err)
	}
	if err := fw.Close(); err != nil {
		return nil, fmt.Errorf("EncodeParquet: closing writer: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeParquet reads a snapshot produced by EncodeParquet.
func DecodeParquet(ctx context.Context, data []byte) ([]domain.Gift, error) {
	mem := memory.DefaultAllocator

	tbl, err := pqarrow.ReadTable(ctx, bytes.NewReader(data), parquet.NewReaderProperties(mem), pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return nil, fmt.Errorf("DecodeParquet: reading table: %w", err)
	}
	defer tbl.Release()

	chunk := tbl.NumRows()
	if chunk < 1 {
		chunk = 1
	}
	tr := array.NewTableReader(tbl, chunk)
	defer tr.Release()

	var gifts []domain.Gift
	for tr.Next() {
		rec := tr.Record()
		cols, err := columnIndexes(rec.Schema())
		if err != nil {
			return nil, fmt.Errorf("DecodeParquet: %w", err)
		}

		ids := rec.Column(cols[colGiftID]).(*array.String)
		constituents := rec.Column(cols[colConstituentID]).(*array.String)
		campaigns := rec.Column(cols[colCampaignID]).(*array.String)
		types := rec.Column(cols[colGiftType]).(*array.String)
		amounts := rec.Column(cols[colAmount]).(*array.Decimal128)
		dates := rec.Column(cols[colGiftDate]).(*array.Date32)
		added := rec.Column(cols[colDateAdded]).(*array.Timestamp)
		receipts := rec.Column(cols[colReceiptDate]).(*array.Date32)

		for i := 0; i < int(rec.NumRows()); i++ {
			g := domain.Gift{
				ID:            ids.Value(i),
				ConstituentID: constituents.Value(i),
				CampaignID:    campaigns.Value(i),
				Amount:        decimal.NewFromBigInt(amounts.Value(i).BigInt(), -amountScale),
				Date:          fromDate32(dates.Value(i)),
				DateAdded:     time.UnixMicro(int64(added.Value(i))).UTC(),
				ReceiptDate:   fromDate32(receipts.Value(i)),
			}
			if types.IsValid(i) {
				g.GiftType = types.Value(i)
			}
			gifts = append(gifts, g)
		}
	}
	return gifts, nil
}

func columnIndexes(s *arrow.Schema) (map[string]int, error) {
	idx := make(map[string]int, len(GiftSchema.Fields()))
	for _, f := range GiftSchema.Fields() {
		found := s.FieldIndices(f.Name)
		if len(found) == 0 {
			return nil, fmt.Errorf("column %q missing from snapshot", f.Name)
		}
		idx[f.Name] = found[0]
	}
	return idx, nil
}

func toDecimal128(d decimal.Decimal) (decimal128.Num, error) {
	if d.Abs().GreaterThanOrEqual(maxAmount) {
		return decimal128.Num{}, fmt.Errorf("amount %s exceeds DECIMAL(18,2)", d.String())
	}
	scaled := d.Round(amountScale).Shift(amountScale).BigInt()
	return decimal128.FromBigInt(scaled), nil
}

func toDate32(d civil.Date) arrow.Date32 {
	return arrow.Date32(d.In(time.UTC).Unix() / 86400)
}

func fromDate32(v arrow.Date32) civil.Date {
	return civil.DateOf(time.Unix(int64(v)*86400, 0).UTC())
}
