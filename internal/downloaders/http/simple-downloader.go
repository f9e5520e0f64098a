package pdlhttp

import (
	"net/http"

	"github.com/Spalmalo/parallel-download/internal/utils"
)

// checkWholeResponse validates the reply to an unranged GET, used for
// servers without byte-range support. The body length is checked by readBody.
func checkWholeResponse(resp *http.Response) *utils.FetchError {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return utils.NewServerError(resp.StatusCode, resp.Status)
	}
	return nil
}
