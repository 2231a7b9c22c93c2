package workflow

import (
	"fmt"
	"strings"

	"github.com/vietddude/slotwatcher/internal/core/domain"
)

// Page identities as shown in the page heading.
const (
	PageLanding       = "Buchen Sie die Termine für Ihre Corona-Schutzimpfung"
	PageWaitingRoom   = "Virtueller Warteraum des Impfterminservice"
	PageLocationClaim = "Wurde Ihr Anspruch auf eine Corona-Schutzimpfung bereits geprüft?"
	PageClaimCode     = "Vermittlungscode anfordern"
	PageVerification  = "SMS Verifizierung"
	PageBooking       = "Onlinebuchung für Ihre Corona-Schutzimpfung"
)

// Selectors used by the machine. Probes interpret them as XPath.
const (
	selCombobox      = `//span[@role="combobox"]`
	selSubmit        = `//button[@type="submit"]`
	selCookieConfirm = `//a[contains(text(),"Auswahl bestätigen")]`
	selEligibleYes   = `//input[@type="radio" and @formcontrolname="isValid"]//following-sibling::span[contains(text(),"Ja")]/..`
	selEligibleNo    = `//input[@type="radio" and @formcontrolname="isValid"]//following-sibling::span[contains(text(),"Nein")]/..`
	selAge           = `//input[@formcontrolname="age"]`
	selEmail         = `//input[@formcontrolname="email"]`
	selPhone         = `//input[@formcontrolname="phone"]`
	selPin           = `//input[@formcontrolname="pin"]`
	selSearch        = `//button[contains(text(),"Termine suchen")]`
	selSlotPair      = `//div[contains(@class,"its-slot-pair-search-info")]`
	selSlotPairRadio = `//input[@type="radio" and @name="slotPair"]`
	selBook          = `//button[contains(text(),"Buchen")]`
)

func selOption(text string) string {
	return fmt.Sprintf(`//li[@role="option" and contains(text(), "%s")]`, text)
}

func selClaim(answer string) string {
	return fmt.Sprintf(`//input[@type="radio" and @name="vaccination-approval-checked"]//following-sibling::span[contains(text(),"%s")]/..`, answer)
}

func selCodeGroup(i int) string {
	return fmt.Sprintf(`//input[@type="text" and @data-index="%d"]`, i)
}

// pageStates maps page identities to the state that handles the page.
var pageStates = map[string]domain.State{
	PageLanding:       domain.StateStart,
	PageWaitingRoom:   domain.StateWaitingRoom,
	PageLocationClaim: domain.StateLocationClaim,
	PageClaimCode:     domain.StateClaimCode,
	PageVerification:  domain.StateCodeVerification,
	PageBooking:       domain.StateAppointmentSearch,
}

// InferState maps an observed page identity back to the nearest known state.
func InferState(identity string) (domain.State, bool) {
	identity = strings.TrimSpace(identity)
	if state, ok := pageStates[identity]; ok {
		return state, true
	}
	// Headings sometimes carry a suffix such as the center name.
	for page, state := range pageStates {
		if strings.HasPrefix(identity, page) {
			return state, true
		}
	}
	return 0, false
}
