package filestorage

import (
	"fmt"

	"github.com/omnicloud/torrentbuild/internal/errs"
)

func errInvalid(format string, args ...any) error {
	return fmt.Errorf("filestorage: "+format+": %w", append(args, errs.ErrInvalidArgument)...)
}
