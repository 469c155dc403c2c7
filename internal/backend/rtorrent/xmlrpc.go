package rtorrent

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strconv"
)

// marshalRequest builds a methodCall body. Supported param types are
// string, int, int64, bool, []byte (sent as base64), and []any for
// nested arrays — everything rtorrent's XML-RPC surface needs.
func marshalRequest(method string, params ...any) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(xml.Header)
	b.WriteString("<methodCall><methodName>")
	xml.EscapeText(&b, []byte(method))
	b.WriteString("</methodName><params>")
	for _, p := range params {
		b.WriteString("<param>")
		if err := marshalValue(&b, p); err != nil {
			return nil, err
		}
		b.WriteString("</param>")
	}
	b.WriteString("</params></methodCall>")
	return b.Bytes(), nil
}

func marshalValue(b *bytes.Buffer, v any) error {
	b.WriteString("<value>")
	switch t := v.(type) {
	case string:
		b.WriteString("<string>")
		xml.EscapeText(b, []byte(t))
		b.WriteString("</string>")
	case int:
		fmt.Fprintf(b, "<i4>%d</i4>", t)
	case int64:
		fmt.Fprintf(b, "<i4>%d</i4>", t)
	case bool:
		if t {
			b.WriteString("<boolean>1</boolean>")
		} else {
			b.WriteString("<boolean>0</boolean>")
		}
	case []byte:
		b.WriteString("<base64>")
		b.WriteString(base64.StdEncoding.EncodeToString(t))
		b.WriteString("</base64>")
	case []any:
		b.WriteString("<array><data>")
		for _, elem := range t {
			if err := marshalValue(b, elem); err != nil {
				return err
			}
		}
		b.WriteString("</data></array>")
	default:
		return fmt.Errorf("rtorrent: unsupported xmlrpc param type %T", v)
	}
	b.WriteString("</value>")
	return nil
}

// rawValue mirrors the union of scalar/array/struct shapes an XML-RPC
// <value> element can take.
type rawValue struct {
	String  *string    `xml:"string"`
	Int     *string    `xml:"int"`
	I4      *string    `xml:"i4"`
	Boolean *string    `xml:"boolean"`
	Double  *string     `xml:"double"`
	Array   *rawArray   `xml:"array"`
	Struct  *rawStruct  `xml:"struct"`
	Chardata string     `xml:",chardata"`
}

type rawArray struct {
	Data struct {
		Values []rawValue `xml:"value"`
	} `xml:"data"`
}

type rawStruct struct {
	Members []rawMember `xml:"member"`
}

type rawMember struct {
	Name  string   `xml:"name"`
	Value rawValue `xml:"value"`
}

func (v rawValue) toAny() (any, error) {
	switch {
	case v.Array != nil:
		out := make([]any, 0, len(v.Array.Data.Values))
		for _, elem := range v.Array.Data.Values {
			a, err := elem.toAny()
			if err != nil {
				return nil, err
			}
			out = append(out, a)
		}
		return out, nil
	case v.Struct != nil:
		out := make(map[string]any, len(v.Struct.Members))
		for _, m := range v.Struct.Members {
			a, err := m.Value.toAny()
			if err != nil {
				return nil, err
			}
			out[m.Name] = a
		}
		return out, nil
	case v.Int != nil:
		return strconv.ParseInt(*v.Int, 10, 64)
	case v.I4 != nil:
		return strconv.ParseInt(*v.I4, 10, 64)
	case v.Boolean != nil:
		return *v.Boolean == "1", nil
	case v.Double != nil:
		return strconv.ParseFloat(*v.Double, 64)
	case v.String != nil:
		return *v.String, nil
	default:
		return v.Chardata, nil
	}
}

type methodResponse struct {
	XMLName xml.Name `xml:"methodResponse"`
	Params  *struct {
		Param []struct {
			Value rawValue `xml:"value"`
		} `xml:"param"`
	} `xml:"params"`
	Fault *struct {
		Value rawValue `xml:"value"`
	} `xml:"fault"`
}

// Fault is returned when the remote end signals an XML-RPC fault.
type Fault struct {
	Code    int64
	Message string
}

func (f *Fault) Error() string { return fmt.Sprintf("rtorrent fault %d: %s", f.Code, f.Message) }

func unmarshalResponse(body []byte) ([]any, error) {
	var resp methodResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding xmlrpc response: %w", err)
	}
	if resp.Fault != nil {
		faultAny, err := resp.Fault.Value.toAny()
		if err != nil {
			return nil, fmt.Errorf("decoding fault: %w", err)
		}
		m, _ := faultAny.(map[string]any)
		f := &Fault{}
		if code, ok := m["faultCode"].(int64); ok {
			f.Code = code
		}
		if msg, ok := m["faultString"].(string); ok {
			f.Message = msg
		}
		return nil, f
	}
	if resp.Params == nil {
		return nil, nil
	}
	out := make([]any, 0, len(resp.Params.Param))
	for _, p := range resp.Params.Param {
		a, err := p.Value.toAny()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
