package notification

import "fmt"

type phrases struct {
	title    string
	singular string
	plural   string
}

var catalog = map[string]phrases{
	"en": {"Recurring transactions", "1 recurring transaction was added to your accounts", "%d recurring transactions were added to your accounts"},
	"es": {"Transacciones recurrentes", "Se agregó 1 transacción recurrente a tus cuentas", "Se agregaron %d transacciones recurrentes a tus cuentas"},
	"pt": {"Transações recorrentes", "1 transação recorrente foi adicionada às suas contas", "%d transações recorrentes foram adicionadas às suas contas"},
	"fr": {"Transactions récurrentes", "1 transaction récurrente a été ajoutée à vos comptes", "%d transactions récurrentes ont été ajoutées à vos comptes"},
	"de": {"Wiederkehrende Buchungen", "1 wiederkehrende Buchung wurde deinen Konten hinzugefügt", "%d wiederkehrende Buchungen wurden deinen Konten hinzugefügt"},
}

// Localize returns the title and body announcing count new transactions.
// Unsupported languages fall back to English; region suffixes are ignored
// ("pt-BR" uses "pt").
func Localize(language string, count int) (title, body string) {
	p, ok := catalog[baseLanguage(language)]
	if !ok {
		p = catalog["en"]
	}
	if count == 1 {
		return p.title, p.singular
	}
	return p.title, fmt.Sprintf(p.plural, count)
}

func baseLanguage(language string) string {
	for i, r := range language {
		if r == '-' || r == '_' {
			return language[:i]
		}
	}
	return language
}
