package types

import (
	"reflect"
	"testing"
)

func TestParseDependencyFreeText(t *testing.T) {
	cases := []struct {
		text string
		want Dependency
	}{
		{"a, b: all or none", AllOrNone{Params: []string{"a", "b"}}},
		{"latitude and longitude: both parameters must be included together.", AllOrNone{Params: []string{"latitude", "longitude"}}},
		{"email, phone: at least one of these contact methods must be provided.", AtLeastOne{Params: []string{"email", "phone"}}},
		{"a, b: at least one must be provided, both are allowed.", AtLeastOne{Params: []string{"a", "b"}}},
		{"q, name and name_equals: only one of them must be used.", OnlyOne{Groups: [][]string{{"q"}, {"name"}, {"name_equals"}}}},
		{"startDate, endDate: if startDate is provided, endDate must also be included.", Requires{Governing: "startDate", Dependents: []string{"endDate"}}},
		{"minPrice, maxPrice: minPrice must be less than or equal to maxPrice.", Arithmetic{Expr: "minPrice <= maxPrice", Params: []string{"minPrice", "maxPrice"}}},
		{"adults, children: The combined number of adults and children must not exceed 9.", Arithmetic{Expr: "adults + children <= 9", Params: []string{"adults", "children"}}},
		{"departureDate, returnDate: returnDate must be equal or after departureDate.", Arithmetic{Params: []string{"departureDate", "returnDate"}}},
		{"promoCode, discountId: at most one of these can be included in a request.", Unrecognized{Params: []string{"promoCode", "discountId"}}},
		{"no colon here", Unrecognized{}},
	}
	for _, tc := range cases {
		got := ParseDependency(tc.text)
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("ParseDependency(%q) = %#v, want %#v", tc.text, got, tc.want)
		}
	}
}

func TestParseDependencyTagged(t *testing.T) {
	got := ParseDependency(`OnlyOne: [["q"], ["name", "name_equals"]]`)
	want := OnlyOne{Groups: [][]string{{"q"}, {"name", "name_equals"}}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v", got)
	}

	got = ParseDependency(`AtLeastOne: [email, phone]`)
	if !reflect.DeepEqual(got, AtLeastOne{Params: []string{"email", "phone"}}) {
		t.Fatalf("got %#v", got)
	}

	got = ParseDependency(`RequireOtherParameters: ["startDate", "endDate", "timezone"]`)
	if !reflect.DeepEqual(got, Requires{Governing: "startDate", Dependents: []string{"endDate", "timezone"}}) {
		t.Fatalf("got %#v", got)
	}

	got = ParseDependency(`Arithmetic: minPrice <= maxPrice and maxPrice < 1000`)
	arith, ok := got.(Arithmetic)
	if !ok || arith.Expr != "minPrice <= maxPrice and maxPrice < 1000" {
		t.Fatalf("got %#v", got)
	}
	if !reflect.DeepEqual(arith.Params, []string{"minPrice", "maxPrice"}) {
		t.Fatalf("params %v", arith.Params)
	}
}

func TestDependencyNames(t *testing.T) {
	d := OnlyOne{Groups: [][]string{{"q"}, {"name", "name_equals"}}}
	if !reflect.DeepEqual(d.Names(), []string{"q", "name", "name_equals"}) {
		t.Fatalf("names %v", d.Names())
	}
	r := Requires{Governing: "a", Dependents: []string{"b"}}
	if !reflect.DeepEqual(r.Names(), []string{"a", "b"}) {
		t.Fatalf("names %v", r.Names())
	}
}
