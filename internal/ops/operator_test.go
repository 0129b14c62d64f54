// Copyright (C) 2024 The spotfish authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package ops

import (
	"encoding/json"
	"testing"
)

// A forEach node carries a polymorphic embedded operation which must survive
// a JSON round trip through the operator factory
func TestOpForEachJSONRoundTrip(t *testing.T) {
	raw:=`{"type":"forEach", "active":true, "operation":{"type":"save", "filePattern":"out%d.tif"}}`

	op:=NewOpForEachDefault()
	if err:=json.Unmarshal([]byte(raw), op); err!=nil {
		t.Fatalf("unmarshal: %s", err.Error())
	}
	if op.Operation==nil { t.Fatal("embedded operation is nil after unmarshal") }
	if got:=op.Operation.GetType(); got!="save" {
		t.Fatalf("embedded operation type %q; want save", got)
	}
	save, ok:=op.Operation.(*OpSave)
	if !ok { t.Fatalf("embedded operation has type %T; want *OpSave", op.Operation) }
	if save.FilePattern!="out%d.tif" {
		t.Errorf("embedded file pattern %q; want out%%d.tif", save.FilePattern)
	}

	m, err:=json.Marshal(op)
	if err!=nil { t.Fatalf("marshal: %s", err.Error()) }
	op2:=NewOpForEachDefault()
	if err:=json.Unmarshal(m, op2); err!=nil {
		t.Fatalf("unmarshal round trip: %s", err.Error())
	}
	if op2.Operation==nil || op2.Operation.GetType()!="save" {
		t.Errorf("round trip lost the embedded operation: %s", string(m))
	}
}

// An unknown embedded operator type must be rejected with an error
func TestOpForEachUnknownOperation(t *testing.T) {
	raw:=`{"type":"forEach", "active":true, "operation":{"type":"noSuchOp"}}`
	op:=NewOpForEachDefault()
	if err:=json.Unmarshal([]byte(raw), op); err==nil {
		t.Error("expected error for unknown embedded operator type")
	}
}