package flow

import "testing"

func TestSubstitute(t *testing.T) {
	vars := map[string]string{
		"name":          "Maria",
		"tipo_consulta": "Retorno",
	}
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{"simple", "Olá, {{name}}!", "Olá, Maria!"},
		{"spaced placeholder", "Olá, {{ name }}!", "Olá, Maria!"},
		{"multiple", "{{name}}: {{tipo_consulta}}", "Maria: Retorno"},
		{"unset stays literal", "Olá, {{sobrenome}}!", "Olá, {{sobrenome}}!"},
		{"no placeholders", "Bom dia.", "Bom dia."},
		{"empty", "", ""},
		{"repeated", "{{name}} e {{name}}", "Maria e Maria"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Substitute(c.content, vars); got != c.want {
				t.Errorf("Substitute(%q) = %q, want %q", c.content, got, c.want)
			}
		})
	}
}

func TestSubstituteNilVariables(t *testing.T) {
	if got := Substitute("Olá, {{name}}!", nil); got != "Olá, {{name}}!" {
		t.Errorf("Substitute() with nil variables = %q", got)
	}
}

func TestHumanizeKey(t *testing.T) {
	cases := map[string]string{
		"tipo_consulta": "Tipo consulta",
		"name":          "Name",
		"idade":         "Idade",
		"":              "",
	}
	for in, want := range cases {
		if got := humanizeKey(in); got != want {
			t.Errorf("humanizeKey(%q) = %q, want %q", in, got, want)
		}
	}
}
