package token

import "testing"

func lexAll(t *testing.T, src string) []Token {
	t.Helper()
	sc := NewScanner(src)
	var toks []Token
	for {
		tok, err := sc.Next()
		if err != nil {
			t.Fatalf("lex error: %v", err)
		}
		toks = append(toks, tok)
		if tok.Kind == EOF {
			return toks
		}
	}
}

func TestKeywordsAndIdents(t *testing.T) {
	// Init/Loop are plain identifiers, not reserved words — only
	// function/int below are actual keywords.
	toks := lexAll(t, "function int Init x_1")
	want := []Kind{KwFunction, KwInt, Ident, Ident, EOF}
	if len(toks) != len(want) {
		t.Fatalf("got %d tokens, want %d: %+v", len(toks), len(want), toks)
	}
	for i, k := range want {
		if toks[i].Kind != k {
			t.Errorf("token %d: got %v, want %v (%+v)", i, toks[i].Kind, k, toks[i])
		}
	}
}

func TestNumberLiterals(t *testing.T) {
	toks := lexAll(t, "42 3.5 0")
	if toks[0].Kind != IntLit || toks[0].IVal != 42 {
		t.Errorf("got %+v, want IntLit 42", toks[0])
	}
	if toks[1].Kind != FloatLit || toks[1].FVal != 3.5 {
		t.Errorf("got %+v, want FloatLit 3.5", toks[1])
	}
	if toks[2].Kind != IntLit || toks[2].IVal != 0 {
		t.Errorf("got %+v, want IntLit 0", toks[2])
	}
}

func TestOperatorDisambiguation(t *testing.T) {
	cases := map[string]Kind{
		"+": Plus, "++": Inc, "+=": PlusEq,
		"-": Minus, "--": Dec, "-=": MinusEq,
		"=": Assign, "==": Eq,
		"!": Bang, "!=": Ne,
		"<": Lt, "<=": Le,
		">": Gt, ">=": Ge,
		"&": Amp, "&&": AndAnd, "&=": AndEq,
		"|": Or, "||": OrOr, "|=": OrEq,
	}
	for src, want := range cases {
		sc := NewScanner(src)
		tok, err := sc.Next()
		if err != nil {
			t.Fatalf("%q: %v", src, err)
		}
		if tok.Kind != want {
			t.Errorf("%q: got %v, want %v", src, tok.Kind, want)
		}
	}
}

func TestCommentsAndWhitespaceSkipped(t *testing.T) {
	toks := lexAll(t, "int // line comment\n x /* block\ncomment */ = 1;")
	want := []Kind{KwInt, Ident, Assign, IntLit, Semi, EOF}
	if len(toks) != len(want) {
		t.Fatalf("got %d tokens, want %d: %+v", len(toks), len(want), toks)
	}
	for i, k := range want {
		if toks[i].Kind != k {
			t.Errorf("token %d: got %v, want %v", i, toks[i].Kind, k)
		}
	}
}

func TestStringLiteralEscapes(t *testing.T) {
	sc := NewScanner(`"line1\nline2\t\"quoted\""`)
	tok, err := sc.Next()
	if err != nil {
		t.Fatal(err)
	}
	if tok.Kind != StringLit {
		t.Fatalf("got kind %v, want StringLit", tok.Kind)
	}
	want := "line1\nline2\t\"quoted\""
	if tok.SVal != want {
		t.Errorf("got %q, want %q", tok.SVal, want)
	}
}

func TestUnterminatedStringErrors(t *testing.T) {
	sc := NewScanner(`"unterminated`)
	if _, err := sc.Next(); err == nil {
		t.Error("expected an error for an unterminated string literal")
	}
}

func TestPeekDoesNotConsume(t *testing.T) {
	sc := NewScanner("int x")
	first, err := sc.Peek()
	if err != nil {
		t.Fatal(err)
	}
	second, err := sc.Peek()
	if err != nil {
		t.Fatal(err)
	}
	if first.Kind != second.Kind || first.Pos != second.Pos {
		t.Errorf("Peek is not idempotent: %+v vs %+v", first, second)
	}
	next, err := sc.Next()
	if err != nil {
		t.Fatal(err)
	}
	if next.Kind != first.Kind {
		t.Errorf("Next after Peek returned a different token: %+v vs %+v", next, first)
	}
}

func TestLineColTracking(t *testing.T) {
	sc := NewScanner("int\nx")
	first, _ := sc.Next()
	if first.Pos.Line != 1 || first.Pos.Col != 1 {
		t.Errorf("got %+v, want line 1 col 1", first.Pos)
	}
	second, _ := sc.Next()
	if second.Pos.Line != 2 || second.Pos.Col != 1 {
		t.Errorf("got %+v, want line 2 col 1", second.Pos)
	}
}
