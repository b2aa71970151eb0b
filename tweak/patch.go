package tweak

import (
	"bytes"
	"context"
	"io/ioutil"
	"os/exec"
	"strings"

	"code.cloudfoundry.org/lager"
	"github.com/cirocosta/rootstrap/dpkg"
	"github.com/pkg/errors"
)

// baseFilesPatch makes base-files' postinst move the contents of a
// directory it is about to replace by a symlink, instead of failing on
// `rmdir` of a non-empty directory (e.g. `/var/run` after unpacking).
//
const baseFilesPatch = `--- var/lib/dpkg/info/base-files.postinst	2016-09-07 11:48:24.997337549 -0700
+++ var/lib/dpkg/info/base-files.postinst	2016-09-07 11:50:09.641334627 -0700
@@ -23,6 +23,13 @@

 migrate_directory() {
   if [ ! -L $1 ]; then
+    if [ ! -z "` + "`ls -A $1/`" + `" ]; then
+      for x in $1/* $1/.[!.]* $1/..?*; do
+        if [ -e "$x" ]; then
+          mv -- "$x" $2/
+        fi
+      done
+    fi
     rmdir $1
     ln -s $2 $1
   fi
`

// baseFilesPatchMarker is a line that only shows up once the patch has
// been applied.
//
const baseFilesPatchMarker = `for x in $1/* $1/.[!.]* $1/..?*; do`

// patchBaseFiles applies `baseFilesPatch` relative to `rootfs` unless the
// script already carries it.
//
func patchBaseFiles(ctx context.Context, logger lager.Logger, rootfs, script string) (err error) {
	content, err := ioutil.ReadFile(script)
	if err != nil {
		err = errors.Wrapf(err, "failed reading %s", script)
		return
	}

	if strings.Contains(string(content), baseFilesPatchMarker) {
		logger.Debug("already-patched", lager.Data{"script": script})
		return
	}

	var output bytes.Buffer

	cmd := exec.CommandContext(ctx, "patch",
		"-d", rootfs, "-p0", "--forward", "--reject-file=/dev/null")
	cmd.Stdin = strings.NewReader(baseFilesPatch)
	cmd.Stdout = &output
	cmd.Stderr = &output

	logger.Debug("run", lager.Data{"cmd": dpkg.Quote(cmd.Args)})

	err = cmd.Run()
	if err != nil {
		err = &PatchApplyError{
			Target:     script,
			ExitStatus: dpkg.ExitStatus(err),
			Output:     output.String(),
		}
		return
	}

	logger.Debug("patched", lager.Data{"output": output.String()})
	return
}
