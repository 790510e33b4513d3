package metafile

import (
	"fmt"

	"github.com/omnicloud/torrentbuild/internal/errs"
	"github.com/omnicloud/torrentbuild/internal/filestorage"
)

func errProtocolNotReady(p filestorage.Protocol) error {
	return fmt.Errorf("metafile: storage protocol %v is not ready to serialize (missing hashes): %w", p, errs.ErrInvalidArgument)
}
