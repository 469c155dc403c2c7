package rtorrent

import "testing"

func TestMarshalRequest_Scalars(t *testing.T) {
	body, err := marshalRequest("d.start", "ABCDEF", int64(2), true, []any{"d.hash=", "d.name="})
	if err != nil {
		t.Fatalf("marshalRequest: %v", err)
	}
	s := string(body)
	for _, want := range []string{
		"<methodName>d.start</methodName>",
		"<string>ABCDEF</string>",
		"<i4>2</i4>",
		"<boolean>1</boolean>",
		"<array><data>",
	} {
		if !contains(s, want) {
			t.Errorf("request body missing %q:\n%s", want, s)
		}
	}
}

func TestUnmarshalResponse_NestedArray(t *testing.T) {
	body := []byte(`<?xml version="1.0"?>
<methodResponse><params><param><value><array><data>
<value><array><data>
<value><string>ABC123</string></value>
<value><i4>42</i4></value>
</data></array></value>
</data></array></value></param></params></methodResponse>`)

	results, err := unmarshalResponse(body)
	if err != nil {
		t.Fatalf("unmarshalResponse: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d top-level results, want 1", len(results))
	}
	rows, ok := results[0].([]any)
	if !ok || len(rows) != 1 {
		t.Fatalf("got %#v, want one row", results[0])
	}
	cols, ok := rows[0].([]any)
	if !ok || len(cols) != 2 {
		t.Fatalf("got %#v, want two columns", rows[0])
	}
	if cols[0] != "ABC123" {
		t.Errorf("got col0 %#v, want ABC123", cols[0])
	}
	if cols[1] != int64(42) {
		t.Errorf("got col1 %#v, want 42", cols[1])
	}
}

func TestUnmarshalResponse_Fault(t *testing.T) {
	body := []byte(`<?xml version="1.0"?>
<methodResponse><fault><value><struct>
<member><name>faultCode</name><value><i4>500</i4></value></member>
<member><name>faultString</name><value><string>boom</string></value></member>
</struct></value></fault></methodResponse>`)

	_, err := unmarshalResponse(body)
	if err == nil {
		t.Fatal("expected fault error")
	}
	f, ok := err.(*Fault)
	if !ok {
		t.Fatalf("got error %T, want *Fault", err)
	}
	if f.Code != 500 || f.Message != "boom" {
		t.Fatalf("got %+v, want code 500 boom", f)
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
